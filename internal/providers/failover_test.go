package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyFailoverReason(t *testing.T) {
	cases := []struct {
		message string
		want    FailoverReason
	}{
		{"Invalid API Key provided", FailoverAuth},
		{"authentication_error: x-api-key header is missing", FailoverAuth},
		{"429 Too Many Requests", FailoverRateLimit},
		{"Overloaded: please retry later", FailoverRateLimit},
		{"You have hit your usage limit for this billing period", FailoverRateLimit},
		{"invalid request format: unexpected field", FailoverFormat},
		{"request does not match schema", FailoverFormat},
		{"Your credit balance is too low to access the Anthropic API", FailoverBilling},
		{"context deadline exceeded", FailoverTimeout},
		{"503 Service Unavailable", FailoverTimeout},
		{"something completely unrecognized happened", FailoverNone},
	}

	for _, c := range cases {
		require.Equal(t, c.want, ClassifyFailoverReason(c.message), "message: %s", c.message)
	}
}
