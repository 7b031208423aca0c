// Package client talks to a coordinator on behalf of one participant: it
// wraps the HTTP API, acquires chunk locks and drives the transformation loop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nhttp "net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celo-org/snark-setup-coordinator/api"
	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
)

const defaultHTTPTimeout = 10 * time.Minute

// Error is a non-ok answer of the coordinator.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("coordinator answered %d: %s", e.StatusCode, e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *nhttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client is the HTTP API of one coordinator, seen by one participant.
type Client struct {
	root   *url.URL
	signer auth.Signer
	http   *nhttp.Client
	log    log.Logger
}

// New returns a client of the coordinator at root authenticating with signer.
func New(root string, signer auth.Signer, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(root, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing coordinator url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("coordinator url %q is not absolute", root)
	}
	c := &Client{
		root:   u,
		signer: signer,
		http:   instrumentClient(nhttp.DefaultTransport),
		log:    log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("client")
	return c, nil
}

// ParticipantID is the identity the client authenticates as.
func (c *Client) ParticipantID() string {
	return c.signer.ParticipantID()
}

// GetCeremony returns the live document.
func (c *Client) GetCeremony(ctx context.Context) (*ceremony.Ceremony, error) {
	doc := new(ceremony.Ceremony)
	if err := c.do(ctx, nhttp.MethodGet, "/ceremony", nil, false, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SetCeremony replaces the document. doc.Version must be the version it was
// read at. The new version is returned.
func (c *Client) SetCeremony(ctx context.Context, doc *ceremony.Ceremony) (int64, error) {
	res := new(api.SetCeremonyResult)
	if err := c.do(ctx, nhttp.MethodPut, "/ceremony", doc, true, res); err != nil {
		return 0, err
	}
	return res.Version, nil
}

// TryLock asks for the lock of a chunk. It returns false without error when
// the participant already holds it.
func (c *Client) TryLock(ctx context.Context, chunkID string) (bool, error) {
	res := new(api.LockResult)
	if err := c.do(ctx, nhttp.MethodPost, chunkPath(chunkID, "lock"), nil, true, res); err != nil {
		return false, err
	}
	return res.Locked, nil
}

// Unlock releases a chunk held by the participant.
func (c *Client) Unlock(ctx context.Context, chunkID string) error {
	return c.do(ctx, nhttp.MethodPost, chunkPath(chunkID, "unlock"), nil, true, new(api.UnlockResult))
}

// ChunkInfo returns the download locations of a chunk.
func (c *Client) ChunkInfo(ctx context.Context, chunkID string) (*ceremony.ChunkDownloadInfo, error) {
	info := new(ceremony.ChunkDownloadInfo)
	if err := c.do(ctx, nhttp.MethodGet, chunkPath(chunkID, "info"), nil, false, info); err != nil {
		return nil, err
	}
	return info, nil
}

// WriteLocation returns where the artifact of the next transformation of a
// chunk must be uploaded.
func (c *Client) WriteLocation(ctx context.Context, chunkID string) (string, error) {
	res := new(api.WriteLocation)
	if err := c.do(ctx, nhttp.MethodGet, chunkPath(chunkID, "contribution"), nil, true, res); err != nil {
		return "", err
	}
	return res.WriteURL, nil
}

// Contribute submits the signed record of an uploaded artifact and returns
// the artifact's permanent location.
func (c *Client) Contribute(ctx context.Context, chunkID string, signed *ceremony.SignedData) (string, error) {
	res := new(api.ContributeResult)
	body := (*api.ContributeRequest)(signed)
	if err := c.do(ctx, nhttp.MethodPost, chunkPath(chunkID, "contribution"), body, true, res); err != nil {
		return "", err
	}
	return res.Location, nil
}

// Attest signs message and appends it to the document. It returns false if
// the participant had already attested.
func (c *Client) Attest(ctx context.Context, message string) (bool, error) {
	sig, err := c.signer.SignMessage([]byte(message))
	if err != nil {
		return false, fmt.Errorf("signing attestation: %w", err)
	}
	a := &ceremony.Attestation{
		Address:   c.signer.ParticipantID(),
		Message:   message,
		Signature: sig,
	}
	res := new(api.AttestResult)
	if err := c.do(ctx, nhttp.MethodPost, "/attest", a, true, res); err != nil {
		return false, err
	}
	return res.Added, nil
}

// SetShutdownSignal raises or clears the advisory shutdown signal.
func (c *Client) SetShutdownSignal(ctx context.Context, signal bool) error {
	return c.do(ctx, nhttp.MethodPost, "/shutdown-signal", &api.ShutdownRequest{Signal: &signal}, true, nil)
}

// Download stores the artifact at location into dst.
func (c *Client) Download(ctx context.Context, location, dst string) error {
	req, err := nhttp.NewRequestWithContext(ctx, nhttp.MethodGet, c.resolve(location), nhttp.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nhttp.StatusOK {
		return fmt.Errorf("downloading %s: %w", location, readError(resp))
	}
	fd, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fd, resp.Body); err != nil {
		fd.Close()
		return fmt.Errorf("downloading %s: %w", location, err)
	}
	return fd.Close()
}

// Upload sends the file at src to a write location. Locations served by the
// coordinator itself are POSTed with the participant's authorization, any
// other location is treated as a presigned PUT.
func (c *Client) Upload(ctx context.Context, location, src string) error {
	fd, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fd.Close()
	st, err := fd.Stat()
	if err != nil {
		return err
	}

	target := c.resolve(location)
	method := nhttp.MethodPut
	var authorization string
	if u, err := url.Parse(target); err == nil && u.Host == c.root.Host {
		method = nhttp.MethodPost
		if authorization, err = c.signer.AuthorizationValue(method, u.Path); err != nil {
			return fmt.Errorf("signing request: %w", err)
		}
	}

	req, err := nhttp.NewRequestWithContext(ctx, method, target, fd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("uploading to %s: %w", location, readError(resp))
	}
	c.log.Debugw("uploaded artifact", "location", location, "bytes", st.Size())
	return nil
}

// do sends a request to the API and decodes the envelope result into out.
func (c *Client) do(ctx context.Context, method, p string, body interface{}, authenticated bool, out interface{}) error {
	var reader io.Reader = nhttp.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	u := *c.root
	u.Path = path.Join(c.root.Path, p)
	req, err := nhttp.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		value, err := c.signer.AuthorizationValue(method, u.Path)
		if err != nil {
			return fmt.Errorf("signing request: %w", err)
		}
		req.Header.Set("Authorization", value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	env := new(api.Response)
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("%s %s: decoding response (status %d): %w", method, p, resp.StatusCode, err)
	}
	if resp.StatusCode != nhttp.StatusOK || env.Status != api.StatusOK {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s %s: decoding result: %w", method, p, err)
	}
	return nil
}

// resolve turns a location relative to the coordinator into an absolute url.
func (c *Client) resolve(location string) string {
	ref, err := url.Parse(location)
	if err != nil || ref.IsAbs() {
		return location
	}
	u := *c.root
	u.Path = path.Join(c.root.Path, ref.Path)
	u.RawQuery = ref.RawQuery
	return u.String()
}

func chunkPath(chunkID, action string) string {
	return "/chunks/" + chunkID + "/" + action
}

func readError(resp *nhttp.Response) error {
	env := new(api.Response)
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(env); err == nil && env.Message != "" {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return &Error{StatusCode: resp.StatusCode, Message: resp.Status}
}

// instrumentClient wraps a transport with the client metrics.
func instrumentClient(transport nhttp.RoundTripper) *nhttp.Client {
	hc := nhttp.Client{}
	hc.Timeout = defaultHTTPTimeout
	hc.Transport = promhttp.InstrumentRoundTripperInFlight(metrics.ClientInFlight,
		promhttp.InstrumentRoundTripperCounter(metrics.ClientRequests,
			promhttp.InstrumentRoundTripperDuration(metrics.ClientLatency,
				transport)))
	return &hc
}
