package jobapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/test/apitest"
)

func newClient(t *testing.T, srv *apitest.Server) *jobapi.Client {
	t.Helper()
	c, err := jobapi.New(jobapi.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := jobapi.New(jobapi.Config{})
	require.Error(t, err)

	_, err = jobapi.New(jobapi.Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestListVariants(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves server order", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithVariants("zeta", "alpha", "zeta", "mid"))
		c := newClient(t, srv)

		variants, err := c.ListVariants(ctx, "secret")
		require.NoError(t, err)
		assert.Equal(t, []string{"zeta", "alpha", "zeta", "mid"}, jobapi.VariantIDs(variants))

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodGet, reqs[0].Method)
		assert.Equal(t, "/v1/models", reqs[0].Path)
		assert.Equal(t, "Bearer secret", reqs[0].Authorization)
	})

	t.Run("drops entries without an id", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithVariants("zeta", " ", "alpha", ""))
		c := newClient(t, srv)

		variants, err := c.ListVariants(ctx, "secret")
		require.NoError(t, err)
		assert.Equal(t, []string{"zeta", "alpha"}, jobapi.VariantIDs(variants))
	})

	t.Run("empty credential fails before any request", func(t *testing.T) {
		srv := apitest.New(t)
		c := newClient(t, srv)

		_, err := c.ListVariants(ctx, "  ")
		require.Error(t, err)
		assert.True(t, jobapi.IsValidation(err))
		assert.Equal(t, 0, srv.RequestCount())
	})

	t.Run("error detail is surfaced", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithAPIKey("right"))
		c := newClient(t, srv)

		_, err := c.ListVariants(ctx, "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, jobapi.ErrFetch)
		assert.Equal(t, "invalid API key", jobapi.UserMessage(err))
	})

	t.Run("malformed error body falls back to generic message", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithListResponse(http.StatusBadGateway, "<html>bad gateway</html>"))
		c := newClient(t, srv)

		_, err := c.ListVariants(ctx, "k")
		require.Error(t, err)
		assert.ErrorIs(t, err, jobapi.ErrFetch)
		assert.Equal(t, jobapi.MsgListFailed, jobapi.UserMessage(err))

		var apiErr *jobapi.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	})

	t.Run("non-string detail falls back to generic message", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithListResponse(http.StatusUnprocessableEntity, `{"detail":[{"loc":["x"]}]}`))
		c := newClient(t, srv)

		_, err := c.ListVariants(ctx, "k")
		require.Error(t, err)
		assert.Equal(t, jobapi.MsgListFailed, jobapi.UserMessage(err))
	})

	t.Run("missing data field is a protocol error", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithListResponse(http.StatusOK, `{"object":"list"}`))
		c := newClient(t, srv)

		_, err := c.ListVariants(ctx, "k")
		require.Error(t, err)
		assert.True(t, jobapi.IsProtocol(err))
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	valid := jobapi.JobRequest{VariantID: "m1", Prompt: "cat", SizeSpec: "512x512"}

	t.Run("returns handle from task_id", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithTaskID("t1"))
		c := newClient(t, srv)

		h, err := c.Submit(ctx, "secret", valid)
		require.NoError(t, err)
		assert.Equal(t, "t1", h.JobID)

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodPost, reqs[0].Method)
		assert.Equal(t, "/v1/images/generations", reqs[0].Path)
		assert.Equal(t, "Bearer secret", reqs[0].Authorization)
		assert.JSONEq(t, `{"model":"m1","prompt":"cat","size":"512x512"}`, reqs[0].Body)
	})

	t.Run("numeric task_id is normalised", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithSubmitResponse(http.StatusOK, `{"task_id": 18345}`))
		c := newClient(t, srv)

		h, err := c.Submit(ctx, "k", valid)
		require.NoError(t, err)
		assert.Equal(t, "18345", h.JobID)
	})

	t.Run("missing task_id is a protocol error", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"task_id":null}`, `{"task_id":""}`} {
			srv := apitest.New(t, apitest.WithSubmitResponse(http.StatusOK, body))
			c := newClient(t, srv)

			_, err := c.Submit(ctx, "k", valid)
			require.Error(t, err, body)
			assert.True(t, jobapi.IsProtocol(err), body)
		}
	})

	t.Run("error detail is surfaced", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithSubmitResponse(http.StatusBadGateway, `{"detail":"upstream error: quota"}`))
		c := newClient(t, srv)

		_, err := c.Submit(ctx, "k", valid)
		require.Error(t, err)
		assert.ErrorIs(t, err, jobapi.ErrSubmit)
		assert.Equal(t, "upstream error: quota", jobapi.UserMessage(err))
	})

	t.Run("missing detail uses generic message", func(t *testing.T) {
		srv := apitest.New(t, apitest.WithSubmitResponse(http.StatusInternalServerError, `{}`))
		c := newClient(t, srv)

		_, err := c.Submit(ctx, "k", valid)
		require.Error(t, err)
		assert.Equal(t, jobapi.MsgSubmitFailed, jobapi.UserMessage(err))
	})

	t.Run("preconditions fail fast", func(t *testing.T) {
		tests := []struct {
			name string
			cred jobapi.Credential
			req  jobapi.JobRequest
		}{
			{"empty credential", "", valid},
			{"empty model", "k", jobapi.JobRequest{Prompt: "cat", SizeSpec: "1x1"}},
			{"empty prompt", "k", jobapi.JobRequest{VariantID: "m1", SizeSpec: "1x1"}},
			{"blank prompt", "k", jobapi.JobRequest{VariantID: "m1", Prompt: "   ", SizeSpec: "1x1"}},
			{"empty size", "k", jobapi.JobRequest{VariantID: "m1", Prompt: "cat"}},
		}

		srv := apitest.New(t)
		c := newClient(t, srv)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.Submit(ctx, tt.cred, tt.req)
				require.Error(t, err)
				assert.True(t, jobapi.IsValidation(err))
			})
		}
		assert.Equal(t, 0, srv.RequestCount())
	})

	t.Run("transport failure is a submit error", func(t *testing.T) {
		srv := apitest.New(t)
		c := newClient(t, srv)
		srv.Close()

		_, err := c.Submit(ctx, "k", valid)
		require.Error(t, err)
		assert.ErrorIs(t, err, jobapi.ErrSubmit)
		assert.Equal(t, jobapi.MsgSubmitFailed, jobapi.UserMessage(err))
	})
}

func TestJobRequestValidate_ListsMissingFields(t *testing.T) {
	err := jobapi.JobRequest{VariantID: "m"}.Validate()
	require.Error(t, err)
	assert.Contains(t, jobapi.UserMessage(err), "prompt, size")
}
