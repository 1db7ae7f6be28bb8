package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	prompts []*Prompt
	err     error
}

func (s stubLister) ListActive(context.Context) ([]*Prompt, error) {
	return s.prompts, s.err
}

func TestHandler_List(t *testing.T) {
	h := NewHandler(stubLister{prompts: []*Prompt{
		{ID: 1, Title: "Watercolor", Text: "secret upstream instructions", Active: true},
	}})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret upstream instructions")

	var body struct {
		Data []Prompt `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Watercolor", body.Data[0].Title)
}

func TestHandler_ListEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(stubLister{}).List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []Prompt `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Data)
}

func TestHandler_ListFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(stubLister{err: errors.New("db down")}).List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
