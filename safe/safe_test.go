package safe

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"s1", "ses_abc123", "my-session.2"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "a b", "../etc", "a/b", "é", strings.Repeat("x", MaxIdentifier+1)} {
		assert.ErrorIs(t, ValidateIdentifier(bad), ErrBadIdentifier, bad)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		private bool
		wantErr error
	}{
		{"http://203.0.113.7/hook", false, nil},
		{"ftp://203.0.113.7/data", false, ErrUnsafeScheme},
		{"javascript:alert(1)", false, ErrUnsafeScheme},
		{"http://127.0.0.1/admin", false, ErrSSRF},
		{"http://10.0.0.1/internal", false, ErrSSRF},
		{"http://192.168.1.1/api", false, ErrSSRF},
		{"http://[::1]/api", false, ErrSSRF},
		{"http://172.16.0.1/secret", false, ErrSSRF},
		{"http://127.0.0.1:9000/hook", true, nil},
		{"ftp://127.0.0.1/x", true, ErrUnsafeScheme},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url, tt.private)
		if tt.wantErr == nil {
			assert.NoError(t, err, tt.url)
		} else {
			assert.ErrorIs(t, err, tt.wantErr, tt.url)
		}
	}
	assert.Error(t, ValidateURL("http:///nohost", true))
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = LimitedReadAll(strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isPrivateIP(net.ParseIP("fd00::1")))
	assert.True(t, isPrivateIP(net.ParseIP("0.0.0.0")))
	assert.False(t, isPrivateIP(net.ParseIP("8.8.8.8")))
}
