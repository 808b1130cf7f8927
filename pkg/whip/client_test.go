package whip

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const answerSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 198.51.100.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 198.51.100.1\r\n" +
	"a=ice-ufrag:remoteufrag\r\n" +
	"a=ice-pwd:remotepwd0123456789012345\r\n" +
	"a=candidate:1 1 udp 2130706431 198.51.100.1 54400 typ host\r\n"

func TestPublishSucceeds(t *testing.T) {
	var gotMethod, gotContentType, gotAuth string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Location", "/sessions/abc123")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(answerSDP))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop(), "secret-token")
	result, err := c.Publish(t.Context(), srv.URL+"/whip/endpoint", "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n")
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, sdpContentType, gotContentType)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.Contains(t, string(gotBody), "v=0")

	require.Equal(t, srv.URL+"/sessions/abc123", result.Location)
	require.Equal(t, "remoteufrag", result.Answer.IceUfrag)
	require.Equal(t, "198.51.100.1", result.Answer.Address)
	require.Equal(t, 54400, result.Answer.Port)
}

func TestPublishSucceedsWithoutLocationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(answerSDP))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop(), "")
	result, err := c.Publish(t.Context(), srv.URL+"/whip/endpoint", "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n")
	require.NoError(t, err)
	require.Empty(t, result.Location)
	require.Equal(t, "remoteufrag", result.Answer.IceUfrag)
}

func TestPublishFailsOnClientErrorWithoutRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop(), "")
	_, err := c.Publish(t.Context(), srv.URL, "v=0\r\n")
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDeleteSendsDeleteToLocation(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop(), "")
	err := c.Delete(t.Context(), srv.URL+"/sessions/abc123")
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Equal(t, "/sessions/abc123", gotPath)
}
