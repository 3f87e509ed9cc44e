package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type fakeDirectory struct {
	saved []domain.Artisan
	err   error
}

func (d *fakeDirectory) UpsertArtisan(_ context.Context, a domain.Artisan) error {
	if d.err != nil {
		return d.err
	}
	d.saved = append(d.saved, a)
	return nil
}

func TestHandleUpsert(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		dirErr     error
		wantStatus int
		wantSaved  int
	}{
		{
			name:       "saves profile",
			body:       `{"id": 7, "latitude": 41.3, "longitude": 69.2, "services": ["plumbing"], "active": true}`,
			wantStatus: http.StatusOK,
			wantSaved:  1,
		},
		{
			name:       "rejects malformed json",
			body:       `{"id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "requires services",
			body:       `{"id": 7, "services": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "requires id",
			body:       `{"services": ["plumbing"]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store failure",
			body:       `{"id": 7, "services": ["plumbing"]}`,
			dirErr:     errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{err: tt.dirErr}
			handler := NewHandler(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

			rec := httptest.NewRecorder()
			handler.HandleUpsert(rec, httptest.NewRequest(http.MethodPost, "/artisans", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, dir.saved, tt.wantSaved)
		})
	}
}
