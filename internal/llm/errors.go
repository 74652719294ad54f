package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// ClassifyHTTPStatus wraps err with the transient sentinel matching an HTTP status.
func ClassifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", common.ErrRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", common.ErrProviderTimeout, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	return err
}

// ClassifyTransport maps context and network failures onto transient sentinels.
// Errors that are already classified pass through unchanged.
func ClassifyTransport(err error) error {
	if err == nil ||
		errors.Is(err, common.ErrRateLimited) ||
		errors.Is(err, common.ErrProviderTimeout) ||
		errors.Is(err, common.ErrConnection) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrProviderTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", common.ErrProviderTimeout, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	return err
}
