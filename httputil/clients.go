package httputil

import (
	"net"
	"net/http"
	"time"

	"linkscan/config"
)

type Clients struct {
	Pages *http.Client // inventory fetches, follows redirects
	Probe *http.Client // link probes, redirects handled by the prober
}

func NewClients(cfg *config.ProbeConfig) *Clients {
	pageTransport := http.DefaultTransport.(*http.Transport).Clone()
	pageTransport.MaxIdleConnsPerHost = 4

	probeTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.Workers * 2,
		MaxIdleConnsPerHost:   2,
		MaxConnsPerHost:       cfg.Workers,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Clients{
		Pages: &http.Client{
			Timeout:   30 * time.Second,
			Transport: pageTransport,
		},
		Probe: &http.Client{
			Transport: probeTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}
