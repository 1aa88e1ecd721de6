package embedding

import (
	"fmt"
	"net/url"

	"github.com/toolrouter/toolrouter/pkg/errkind"
)

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// NewLegacyClient builds the deprecated native embedding client. It enforces
// an SSRF guard: the base URL's host must be a loopback address, since this
// constructor predates the configurable, operator-controlled endpoint.
func NewLegacyClient(opts Options) (Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "invalid legacy embedding base URL", err)
	}
	if !loopbackHosts[u.Hostname()] {
		return nil, errkind.New(errkind.Configuration,
			fmt.Sprintf("legacy embedding client requires a loopback host, got %q", u.Hostname()))
	}
	return NewOpenAICompatibleClient(opts), nil
}
