package recovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

func TestClassifyErrorText(t *testing.T) {
	cases := []struct {
		name string
		err  string
		want domain.FailureType
	}{
		{"timeout", "waiting for selector timed out after 30000ms", domain.FailureTimeout},
		{"deadline", "context deadline exceeded", domain.FailureTimeout},
		{"click intercepted", "click intercepted: element <div> covers the target", domain.FailureClickIntercepted},
		{"element not found", "element not found: #apply-button", domain.FailureElementNotFound},
		{"session expired", "session expired, please log in again", domain.FailureSessionExpired},
		{"navigation", "navigation failed: net::ERR_ABORTED", domain.FailureNavigation},
		{"stale", "stale element reference", domain.FailureStaleElement},
		{"network", "connection refused", domain.FailureNetwork},
		{"crash", "target closed unexpectedly", domain.FailurePageCrash},
		{"unknown", "something inexplicable happened", domain.FailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(errors.New(tc.err), "")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyPageContext(t *testing.T) {
	err := errors.New("step failed")

	cases := []struct {
		name string
		html string
		want domain.FailureType
	}{
		{"captcha", "<div>Please complete the reCAPTCHA to continue</div>", domain.FailureCaptcha},
		{"rate limit", "<p>Too many requests. Try again later.</p>", domain.FailureRateLimited},
		{"two factor", "<span>We sent a code to your phone</span>", domain.FailureTwoFactor},
		{"login", "<h1>Login</h1><button>Sign in</button>", domain.FailureLoginRequired},
		{"nothing matches", "<main>Job listings</main>", domain.FailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(err, tc.html)
			assert.Equal(t, tc.want, got)
		})
	}
}

// The error text is checked before the page context: a timeout error on a
// page that happens to mention a captcha is still a timeout.
func TestClassifyErrorTextWinsOverContext(t *testing.T) {
	err := errors.New("waiting for selector timed out")
	got := Classify(err, "<div>complete the captcha</div>")
	assert.Equal(t, domain.FailureTimeout, got)
}

// Within the page-context checks, captcha indicators outrank login indicators.
func TestClassifyCaptchaOutranksLogin(t *testing.T) {
	err := errors.New("step failed")
	html := "<h1>Login</h1><button>Sign in</button><div>verify you're human</div>"
	assert.Equal(t, domain.FailureCaptcha, Classify(err, html))
}

func TestClassifyNilError(t *testing.T) {
	assert.Equal(t, domain.FailureUnknown, Classify(nil, "<div>captcha</div>"))
}

func TestClassifyDeterministic(t *testing.T) {
	err := errors.New("net::ERR_CONNECTION_RESET")
	first := Classify(err, "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(err, ""))
	}
}
