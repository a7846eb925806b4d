package tlsutil

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/luoshuqi/http-forward/internal/obs"
)

// CertReloader serves a certificate pair from disk and swaps it in place
// when the files change, so the public certificate can be rotated without a
// restart. Control-plane certificates are deliberately not reloaded; session
// trust is fixed for the life of the process.
type CertReloader struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func NewCertReloader(certFile, keyFile string) (*CertReloader, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &CertReloader{certFile: certFile, keyFile: keyFile, cert: &cert}, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *CertReloader) reload() {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		// Keep serving the previous pair; rotation tools often replace the
		// cert and key files one after the other.
		obs.Warn("tls.reload", obs.Fields{"err": err.Error(), "cert": r.certFile})
		return
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	obs.Info("tls.reloaded", obs.Fields{"cert": r.certFile})
}

// Watch blocks until ctx is done, reloading the pair whenever either file is
// rewritten. The parent directories are watched rather than the files, since
// renames replace the watched inode.
func (r *CertReloader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dirs := map[string]bool{}
	for _, f := range []string{r.certFile, r.keyFile} {
		dirs[filepath.Dir(f)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return err
		}
	}
	watched := map[string]bool{
		filepath.Clean(r.certFile): true,
		filepath.Clean(r.keyFile):  true,
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				r.reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			obs.Error("tls.watch", obs.Fields{"err": err.Error()})
		}
	}
}
