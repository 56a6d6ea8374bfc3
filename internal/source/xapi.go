package source

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Device addresses a Cisco room device's xAPI.
type Device struct {
	// Host is a hostname or IP, optionally with a scheme (https:// is assumed).
	Host     string
	Username string
	Password string
}

// baseURL returns scheme://host for the device.
func (d Device) baseURL() (*url.URL, error) {
	host := d.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse device host %q: %w", d.Host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("device host %q has no host part", d.Host)
	}
	u.Path = ""
	return u, nil
}

// insecureTLS is used for every device connection: room devices ship
// self-signed certificates.
func insecureTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed device certificates
}

// XAPIPoller queries the people count over the device's HTTP getxml API.
type XAPIPoller struct {
	device Device
	url    string
	client *http.Client
}

// NewXAPIPoller creates a poller. A zero timeout means 5 seconds.
func NewXAPIPoller(device Device, timeout time.Duration) (*XAPIPoller, error) {
	base, err := device.baseURL()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	base.Path = "/getxml"
	base.RawQuery = url.Values{"location": {"/" + strings.Join(PeopleCountPath, "/")}}.Encode()

	return &XAPIPoller{
		device: device,
		url:    base.String(),
		client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: insecureTLS()},
			Timeout:   timeout,
		},
	}, nil
}

// statusDocument is the subset of the getxml response we read.
type statusDocument struct {
	XMLName xml.Name `xml:"Status"`
	Current *string  `xml:"RoomAnalytics>PeopleCount>Current"`
}

// Read fetches the current people count.
func (p *XAPIPoller) Read(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if p.device.Username != "" {
		req.SetBasicAuth(p.device.Username, p.device.Password)
	}
	req.Header.Set("Accept", "text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query people count: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query people count: unexpected status %d", resp.StatusCode)
	}

	return parseStatusXML(resp.Body)
}

func parseStatusXML(r io.Reader) (string, error) {
	var doc statusDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode status xml: %w", err)
	}
	if doc.Current == nil {
		return "", fmt.Errorf("people count not reported (is RoomAnalytics PeopleCountOutOfCall enabled?)")
	}
	return *doc.Current, nil
}

// Close releases idle connections.
func (p *XAPIPoller) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
