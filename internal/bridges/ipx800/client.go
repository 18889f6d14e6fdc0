package ipx800

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Default device client settings.
const (
	defaultPort    = 80
	defaultTimeout = 5 * time.Second

	// maxStatusBytes bounds how much of status.xml is read.
	maxStatusBytes = 64 << 10
)

// ClientConfig holds the device connection settings.
type ClientConfig struct {
	// Host is the IP address or hostname of the IPX800.
	Host string

	// Port defaults to 80.
	Port int

	// Username and Password enable HTTP basic auth when the device has
	// its admin login turned on. Both empty means no auth.
	Username string
	Password string

	// Timeout bounds every request. Default: 5 seconds.
	Timeout time.Duration

	// HTTPClient overrides the transport. Timeout still applies when the
	// supplied client has none.
	HTTPClient *http.Client
}

// Client talks to one IPX800 V3 over its HTTP interface.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient validates cfg and returns a client for the device.
func NewClient(cfg ClientConfig) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

// StatusURL returns the status document URL.
func (c *Client) StatusURL() string {
	return c.baseURL + "/status.xml"
}

// CommandURL returns the URL that switches channel ch.
func (c *Client) CommandURL(ch int, on bool) string {
	v := 0
	if on {
		v = 1
	}
	return fmt.Sprintf("%s/preset.htm?set%d=%d", c.baseURL, ch, v)
}

// statusDocument is the subset of status.xml the bridge reads. The root
// element name is not checked.
type statusDocument struct {
	Led0 *string `xml:"led0"`
	Led1 *string `xml:"led1"`
	Led2 *string `xml:"led2"`
	Led3 *string `xml:"led3"`
	Led4 *string `xml:"led4"`
	Led5 *string `xml:"led5"`
	Led6 *string `xml:"led6"`
	Led7 *string `xml:"led7"`
}

func (d *statusDocument) leds() [device.ChannelCount]*string {
	return [device.ChannelCount]*string{d.Led0, d.Led1, d.Led2, d.Led3, d.Led4, d.Led5, d.Led6, d.Led7}
}

// FetchStatus reads status.xml and returns the state of every channel,
// keyed 1..8. led(n) maps to channel n+1.
func (c *Client) FetchStatus(ctx context.Context) (map[int]bool, error) {
	resp, err := c.get(ctx, c.StatusURL())
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status.xml returned HTTP %d", ErrMalformedResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading status.xml: %w", ErrDeviceUnreachable, err)
	}
	return ParseStatus(body)
}

// ParseStatus decodes a status.xml body.
func ParseStatus(body []byte) (map[int]bool, error) {
	var doc statusDocument
	dec := xml.NewDecoder(bytes.NewReader(body))
	// The device declares ISO-8859-1.
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	states := make(map[int]bool, device.ChannelCount)
	for i, led := range doc.leds() {
		if led == nil {
			return nil, fmt.Errorf("%w: led%d missing", ErrMalformedResponse, i)
		}
		switch strings.TrimSpace(*led) {
		case "0":
			states[i+1] = false
		case "1":
			states[i+1] = true
		default:
			return nil, fmt.Errorf("%w: led%d has value %q", ErrMalformedResponse, i, *led)
		}
	}
	return states, nil
}

// SendCommand switches one relay. It returns nil only when the device
// answers 200.
func (c *Client) SendCommand(ctx context.Context, cmd device.Command) error {
	if err := device.ValidChannel(cmd.Channel); err != nil {
		return err
	}

	resp, err := c.get(ctx, c.CommandURL(cmd.Channel, cmd.On))
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: set%d=%s returned HTTP %d", ErrCommandRejected, cmd.Channel, cmd.Value(), resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}
	return resp, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxStatusBytes))
	_ = body.Close()
}
