package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
	"ai-companion-demo/backend/pkg/resilience"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type scriptedModel struct {
	reply string
	err   error
	seen  [][]*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = append(m.seen, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func newTestGuard(timeout time.Duration) *Guard {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          timeout,
		RetryTimeout:     time.Minute,
	}, logger.Nop())
	return NewGuard("test", breaker, nil, logger.Nop())
}

func TestCompleteSendsSingleUserMessage(t *testing.T) {
	m := &scriptedModel{reply: "  A lighthouse at dusk  "}
	svc := NewCompletionService(m, newTestGuard(time.Second))

	out, err := svc.Complete(context.Background(), "image prompt", "describe it")
	require.NoError(t, err)
	assert.Equal(t, "A lighthouse at dusk", out)
	require.Len(t, m.seen, 1)
	require.Len(t, m.seen[0], 1)
	assert.Equal(t, schema.User, m.seen[0][0].Role)
	assert.Equal(t, "describe it", m.seen[0][0].Content)
}

func TestCompleteClassifiesProviderFailure(t *testing.T) {
	svc := NewCompletionService(&scriptedModel{err: errors.New("401 unauthorized")}, newTestGuard(time.Second))

	_, err := svc.Complete(context.Background(), "character generation", "prompt")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderError))
	assert.Equal(t, http.StatusBadGateway, apperrors.GetStatusCode(err))
}

func newImageServer(t *testing.T, imageStatus int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/images/generations":
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			var req imageRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 1, req.N)
			assert.Equal(t, "256x256", req.Size)
			if strings.Contains(req.Prompt, "forbidden") {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"content policy violation"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"url":"` + srv.URL + `/img/1.png"}]}`))
		case "/img/1.png":
			w.WriteHeader(imageStatus)
			if imageStatus == http.StatusOK {
				_, _ = w.Write(pngHeader)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImageClientGenerateAndFetch(t *testing.T) {
	srv := newImageServer(t, http.StatusOK)
	client := NewImageClient(ImageClientConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"}, newTestGuard(5*time.Second), logger.Nop())

	url, err := client.Generate(context.Background(), "Hyper realistic picture. A fox")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/img/1.png", url)

	uri, err := client.FetchDataURI(context.Background(), url)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
}

func TestImageClientSurfacesProviderMessage(t *testing.T) {
	srv := newImageServer(t, http.StatusOK)
	client := NewImageClient(ImageClientConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"}, newTestGuard(5*time.Second), logger.Nop())

	_, err := client.Generate(context.Background(), "forbidden thing")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderError))
	assert.Contains(t, err.Error(), "content policy violation")
}

func TestImageFetchFailureIsProviderError(t *testing.T) {
	srv := newImageServer(t, http.StatusNotFound)
	client := NewImageClient(ImageClientConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test"}, newTestGuard(5*time.Second), logger.Nop())

	_, err := client.FetchDataURI(context.Background(), srv.URL+"/img/1.png")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderError))
}

func TestImageFetchRejectsOversizedBody(t *testing.T) {
	oversized := append(append([]byte{}, pngHeader...), make([]byte, maxImageBytes+1008-len(pngHeader))...)

	for name, declareLength := range map[string]bool{"streamed": false, "declared length": true} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				if declareLength {
					w.Header().Set("Content-Length", strconv.Itoa(len(oversized)))
				}
				_, _ = w.Write(oversized)
			}))
			t.Cleanup(srv.Close)

			client := NewImageClient(ImageClientConfig{BaseURL: srv.URL}, newTestGuard(10*time.Second), logger.Nop())
			uri, err := client.FetchDataURI(context.Background(), srv.URL+"/img/big.png")
			require.Error(t, err)
			assert.Empty(t, uri)
			assert.ErrorIs(t, err, errImageTooLarge)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderError))
		})
	}
}

func TestImageGenerationTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	client := NewImageClient(ImageClientConfig{BaseURL: srv.URL}, newTestGuard(20*time.Millisecond), logger.Nop())
	_, err := client.Generate(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.GetStatusCode(err))
}

func TestEncodeDataURI(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AQI=", EncodeDataURI([]byte{1, 2}, "image/jpeg; charset=binary"))
	assert.True(t, strings.HasPrefix(EncodeDataURI(pngHeader, "application/octet-stream"), "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(EncodeDataURI([]byte("plain"), ""), "data:image/png;base64,"))
}

func TestCompleteRejectsBlankReply(t *testing.T) {
	svc := NewCompletionService(&scriptedModel{reply: "   "}, newTestGuard(time.Second))

	_, err := svc.Complete(context.Background(), "character generation", "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, errEmptyCompletion)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeProviderError))
}
