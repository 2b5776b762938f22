/*
Package hostmanager builds the hostname-to-certificate map consumed
by TLS endpoints' SNI callback. It replaces a
filesystem-path certificate loader (one that loads a single node
certificate off disk by directory convention) with a PathMap-indexed
lookup over a configured list of {hostnames, certificate, privateKey}
entries, each decoded straight from inline PEM the way
tls.X509KeyPair expects. ACME-issued certificates (via lego/v4's
Client and an HTTP-01 challenge provider) are folded into the same map
once obtained, refreshed on a timer.
*/
package hostmanager

import (
	"context"
	"crypto"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// HostEntry holds the parsed certificate bound to one hostname pattern,
// for the SNI callback and for the default ("*") fallback used by
// clients that don't send SNI.
type HostEntry struct {
	Certificate tls.Certificate
}

// Config lists the statically-configured host certificates.
type Config struct {
	Hosts []HostConfig
	ACME  *ACMEConfig
}

// HostConfig is one {hostnames, certificate, privateKey} entry.
type HostConfig struct {
	Hostnames   []string
	Certificate string // PEM
	PrivateKey  string // PEM
}

// ACMEConfig enables automatic certificate provisioning for a set of
// hostnames via the ACME HTTP-01 challenge.
type ACMEConfig struct {
	Hostnames    []string
	Email        string
	DirectoryURL string
	ChallengeDir string // where HTTP-01 challenge responses are served from
}

// Manager maps hostname patterns to certificates: SNI lookup uses
// the most-specific match, with "*" as a terminal wildcard fallback.
type Manager struct {
	mu     sync.RWMutex
	byHost *pathmap.Map[HostEntry]
	logger telemetry.Logger

	acmeClient *acmeClient
}

// New builds a Manager from static PEM entries. ACME provisioning, if
// configured, is started separately via StartACME.
func New(cfg Config, logger telemetry.Logger) (*Manager, error) {
	m := &Manager{byHost: pathmap.New[HostEntry](), logger: logger.Sub("component", "hostManager")}

	for _, h := range cfg.Hosts {
		cert, err := tls.X509KeyPair([]byte(h.Certificate), []byte(h.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("hostmanager: parsing certificate for %v: %w", h.Hostnames, err)
		}
		if err := m.addCertForHostnames(h.Hostnames, cert); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manager) addCertForHostnames(hostnames []string, cert tls.Certificate) error {
	for _, hostname := range hostnames {
		key, err := pathmap.ParseHostname(hostname, true)
		if err != nil {
			return fmt.Errorf("hostmanager: invalid hostname pattern %q: %w", hostname, err)
		}
		if err := m.byHost.Add(key, HostEntry{Certificate: cert}); err != nil {
			return fmt.Errorf("hostmanager: %w", err)
		}
	}
	return nil
}

// FindContext resolves the certificate entry for the given SNI
// server name, or reports that none is bound.
func (m *Manager) FindContext(name string) (*HostEntry, bool) {
	key, err := pathmap.ParseHostname(name, true)
	if err != nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byHost.Find(key)
	if !ok {
		return nil, false
	}
	entry := r.Value
	return &entry, true
}

// SNICallback is installed as tls.Config.GetCertificate. It resolves
// by SNI, falling back to the "*" entry, and otherwise fails the
// handshake with an error.
func (m *Manager) SNICallback(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	if name == "" {
		name = "*"
	}
	entry, ok := m.FindContext(name)
	if !ok {
		return nil, fmt.Errorf("hostmanager: no certificate for server name %q", name)
	}
	return &entry.Certificate, nil
}

// SecureServerOptions returns the default ("*") entry's certificate,
// for clients that don't send SNI at all.
func (m *Manager) SecureServerOptions() (*tls.Certificate, bool) {
	entry, ok := m.FindContext("*")
	if !ok {
		return nil, false
	}
	return &entry.Certificate, true
}

// acmeClient wraps a lego.Client and the HTTP-01 challenge bookkeeping
// needed to keep ACME-issued certs current.
type acmeClient struct {
	mgr        *Manager
	client     *lego.Client
	user       *acmeUser
	challenges *http01Provider
	hostnames  []string
}

type acmeUser struct {
	email string
	reg   *registration.Resource
	key   crypto.Signer
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.reg }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

type http01Provider struct {
	mu         sync.Mutex
	challenges map[string]map[string]string
}

func newHTTP01Provider() *http01Provider {
	return &http01Provider{challenges: make(map[string]map[string]string)}
}

func (p *http01Provider) Present(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.challenges[domain] == nil {
		p.challenges[domain] = make(map[string]string)
	}
	p.challenges[domain][token] = keyAuth
	return nil
}

func (p *http01Provider) CleanUp(domain, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.challenges[domain]; ok {
		delete(d, token)
	}
	return nil
}

// ChallengeResponse returns the key authorization for an in-flight
// HTTP-01 challenge, for the endpoint that serves
// /.well-known/acme-challenge/<token>.
func (p *http01Provider) ChallengeResponse(domain, token string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.challenges[domain]
	if !ok {
		return "", false
	}
	keyAuth, ok := d[token]
	return keyAuth, ok
}

// StartACME registers an ACME user, requests certificates for the
// configured hostnames, installs them into the map, and starts a
// background renewal loop tied to ctx.
func (m *Manager) StartACME(ctx context.Context, cfg ACMEConfig, key crypto.Signer) error {
	user := &acmeUser{email: cfg.Email, key: key}

	legoCfg := lego.NewConfig(user)
	if cfg.DirectoryURL != "" {
		legoCfg.CADirURL = cfg.DirectoryURL
	}
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return fmt.Errorf("hostmanager: creating ACME client: %w", err)
	}

	provider := newHTTP01Provider()
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("hostmanager: installing HTTP-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return fmt.Errorf("hostmanager: ACME registration: %w", err)
	}
	user.reg = reg

	ac := &acmeClient{mgr: m, client: client, user: user, challenges: provider, hostnames: cfg.Hostnames}
	m.mu.Lock()
	m.acmeClient = ac
	m.mu.Unlock()

	if err := ac.obtainAndInstall(); err != nil {
		return err
	}

	go ac.renewLoop(ctx, m.logger)
	return nil
}

func (ac *acmeClient) obtainAndInstall() error {
	req := certificate.ObtainRequest{
		Domains: ac.hostnames,
		Bundle:  true,
	}
	certs, err := ac.client.Certificate.Obtain(req)
	if err != nil {
		return fmt.Errorf("hostmanager: obtaining ACME certificate: %w", err)
	}

	cert, err := tls.X509KeyPair(certs.Certificate, certs.PrivateKey)
	if err != nil {
		return fmt.Errorf("hostmanager: parsing ACME certificate: %w", err)
	}
	return ac.mgr.addCertForHostnames(ac.hostnames, cert)
}

func (ac *acmeClient) renewLoop(ctx context.Context, logger telemetry.Logger) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ac.obtainAndInstall(); err != nil {
				logger.EmitError("errorDuringAcmeRenewal", err, nil)
			}
		}
	}
}
