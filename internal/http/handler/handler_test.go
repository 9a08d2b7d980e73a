package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pyqapi/internal/auth"
	"pyqapi/internal/fetch"
	"pyqapi/internal/model"
	"pyqapi/internal/service"
	serviceMocks "pyqapi/internal/service/mocks"
)

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLogin(t *testing.T) {
	a := auth.New("admin@example.com", "s3cret", "signing-key", time.Hour)
	app := fiber.New()
	app.Post("/api/auth/login", Login(a))

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("success", func(t *testing.T) {
		resp := post(`{"email":"admin@example.com","password":"s3cret"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body loginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Token)

		claims, err := a.Verify(body.Token)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := post(`{"email":"admin@example.com","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, resp).Error.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := post(`{"email":""}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := post(`{`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListPapers(t *testing.T) {
	ctx := mock.Anything
	paper := model.Paper{ID: uuid.NewString(), Subject: "Data Structures", Department: "CSE", Semester: 3, Year: 2023}

	t.Run("legacy listing", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockPaperService)
		app := fiber.New()
		app.Get("/api/papers", ListPapers(mockSvc))

		mockSvc.On("ListAll", ctx, model.PaperFilter{Department: "CSE"}).Return([]model.Paper{paper}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers?department=CSE", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body legacyListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, paper.ID, body.Papers[0].ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("paginated listing", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockPaperService)
		app := fiber.New()
		app.Get("/api/papers", ListPapers(mockSvc))

		want := service.ListParams{
			Filter:   model.PaperFilter{Semester: 3, Year: 2023, Subject: "data"},
			Page:     2,
			PageSize: 5,
		}
		mockSvc.On("List", ctx, want).Return(&service.PaperListResult{
			Items: []model.Paper{paper}, TotalCount: 6, TotalPages: 2, Page: 2, PageSize: 5,
		}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers?semester=3&year=2023&subject=data&page=2&pageSize=5", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, float64(6), body["totalCount"])
		assert.Equal(t, float64(2), body["totalPages"])
		assert.Len(t, body["items"], 1)
		mockSvc.AssertExpectations(t)
	})

	t.Run("bad filter", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockPaperService)
		app := fiber.New()
		app.Get("/api/papers", ListPapers(mockSvc))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers?semester=abc", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, resp).Error.Code)
		mockSvc.AssertNotCalled(t, "ListAll", mock.Anything, mock.Anything)
	})

	t.Run("bad page", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockPaperService)
		app := fiber.New()
		app.Get("/api/papers", ListPapers(mockSvc))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers?page=x", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_PAGE", decodeError(t, resp).Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockPaperService)
		app := fiber.New()
		app.Get("/api/papers", ListPapers(mockSvc))

		mockSvc.On("ListAll", ctx, model.PaperFilter{}).Return(nil, errors.New("db fail")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers", nil))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
	})
}

func TestGetPaper(t *testing.T) {
	mockSvc := new(serviceMocks.MockPaperService)
	app := fiber.New()
	app.Get("/api/papers/:id", GetPaper(mockSvc))

	id := uuid.NewString()
	mockSvc.On("Get", mock.Anything, id).Return(&model.Paper{ID: id}, nil).Once()
	missing := uuid.NewString()
	mockSvc.On("Get", mock.Anything, missing).Return(nil, service.ErrNotFound).Once()

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/"+id, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/"+missing, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
}

// multipartBody builds a form with fields and, when field is non-empty, one file.
func multipartBody(t *testing.T, field string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, "paper.pdf")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadPaper(t *testing.T) {
	fields := map[string]string{"subject": "Data Structures", "department": "CSE", "semester": "3", "year": "2023"}
	pdf := []byte("%PDF-1.4 test")
	wantIn := service.UploadInput{Subject: "Data Structures", Department: "CSE", Semester: 3, Year: 2023}

	tests := []struct {
		name       string
		field      string
		fields     map[string]string
		setup      func(m *serviceMocks.MockPaperService)
		wantStatus int
		wantCode   string
	}{
		{
			name:   "success",
			field:  "pdf",
			fields: fields,
			setup: func(m *serviceMocks.MockPaperService) {
				m.On("Upload", mock.Anything, wantIn, mock.MatchedBy(func(r io.Reader) bool {
					b, err := io.ReadAll(r)
					return err == nil && bytes.Equal(b, pdf)
				})).Return(&model.Paper{ID: uuid.NewString(), Subject: "Data Structures"}, nil).Once()
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:   "file alias",
			field:  "file",
			fields: fields,
			setup: func(m *serviceMocks.MockPaperService) {
				m.On("Upload", mock.Anything, wantIn, mock.Anything).Return(&model.Paper{ID: uuid.NewString()}, nil).Once()
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "no file",
			fields:     fields,
			setup:      func(*serviceMocks.MockPaperService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE_REQUIRED",
		},
		{
			name:       "invalid metadata",
			field:      "pdf",
			fields:     map[string]string{"subject": "DS", "department": "CSE", "semester": "9", "year": "2023"},
			setup:      func(*serviceMocks.MockPaperService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:   "not a pdf",
			field:  "pdf",
			fields: fields,
			setup: func(m *serviceMocks.MockPaperService) {
				m.On("Upload", mock.Anything, wantIn, mock.Anything).Return(nil, service.ErrNotPDF).Once()
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "NOT_PDF",
		},
		{
			name:   "storage error",
			field:  "pdf",
			fields: fields,
			setup: func(m *serviceMocks.MockPaperService) {
				m.On("Upload", mock.Anything, wantIn, mock.Anything).
					Return(nil, errors.Join(service.ErrStorage, errors.New("bucket gone"))).Once()
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "STORAGE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockPaperService)
			app := fiber.New()
			app.Post("/api/papers/upload", UploadPaper(mockSvc))
			tt.setup(mockSvc)

			body, ct := multipartBody(t, tt.field, pdf, tt.fields)
			req := httptest.NewRequest(http.MethodPost, "/api/papers/upload", body)
			req.Header.Set("Content-Type", ct)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, resp).Error.Code)
			}
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestDownloadPaper(t *testing.T) {
	id := uuid.NewString()
	data := []byte("%PDF-1.5\x00\xff\xfe")

	t.Run("success", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDownloadService)
		app := fiber.New()
		app.Get("/api/papers/download/:id", DownloadPaper(mockSvc))

		mockSvc.On("ResolveAndDownload", mock.Anything, id).Return(&service.DownloadResult{
			Data:        data,
			Filename:    "Data___Structures__2023_paper.pdf",
			ContentType: "application/pdf",
		}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/download/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		assert.Equal(t, `attachment; filename="Data___Structures__2023_paper.pdf"`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, int64(len(data)), resp.ContentLength)

		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDownloadService)
		app := fiber.New()
		app.Get("/api/papers/download/:id", DownloadPaper(mockSvc))

		mockSvc.On("ResolveAndDownload", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/download/"+id, nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("exhausted attempts carry diagnostics", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDownloadService)
		app := fiber.New()
		app.Get("/api/papers/download/:id", DownloadPaper(mockSvc))

		dlErr := &service.DownloadError{PaperID: id, Attempts: []service.Attempt{
			{Stage: service.StageOriginal, URL: "http://a/raw/upload/x.pdf", Err: &fetch.Error{Kind: fetch.KindAuthRequired, StatusCode: 401, Status: "Unauthorized"}},
			{Stage: service.StageAuthenticated, URL: "http://a/raw/upload/x.pdf?X-Amz-Credential=AKIAEXAMPLE&X-Amz-Signature=abc", Err: &fetch.Error{Kind: fetch.KindNotOK, URL: "http://a/raw/upload/x.pdf?X-Amz-Credential=AKIAEXAMPLE&X-Amz-Signature=abc", StatusCode: 404, Status: "Not Found"}},
		}}
		mockSvc.On("ResolveAndDownload", mock.Anything, id).Return(nil, dlErr).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/download/"+id, nil))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		body := decodeError(t, resp)
		assert.Equal(t, "DOWNLOAD_FAILED", body.Error.Code)
		assert.Contains(t, body.Error.Message, "[original]")
		assert.Contains(t, body.Error.Message, "[authenticated] http://a/raw/upload/x.pdf:")
		assert.NotContains(t, body.Error.Message, "X-Amz-Credential")
		assert.NotContains(t, body.Error.Message, "AKIAEXAMPLE")
	})
}

func TestDeletePaper(t *testing.T) {
	mockSvc := new(serviceMocks.MockPaperService)
	app := fiber.New()
	app.Delete("/api/papers/:id", DeletePaper(mockSvc))

	id := uuid.NewString()
	mockSvc.On("Delete", mock.Anything, id).Return(&service.DeleteResult{ID: id, StorageDeleted: false}, nil).Once()

	resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/api/papers/"+id, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body deleteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, id, body.ID)
	assert.False(t, body.StorageDeleted)
}

func newRoutedApp(t *testing.T) (*fiber.App, *serviceMocks.MockPaperService, *auth.Auth) {
	t.Helper()
	papers := new(serviceMocks.MockPaperService)
	a := auth.New("admin@example.com", "s3cret", "signing-key", time.Hour)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, nil, Deps{
		Papers:    papers,
		Downloads: new(serviceMocks.MockDownloadService),
		Auth:      a,
		Now:       func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) },
	})
	return app, papers, a
}

func TestAdminRoutesRequireToken(t *testing.T) {
	app, papers, _ := newRoutedApp(t)

	reqs := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/papers/stats", nil),
		httptest.NewRequest(http.MethodDelete, "/api/papers/"+uuid.NewString(), nil),
		httptest.NewRequest(http.MethodPost, "/api/papers/upload", nil),
	}
	for _, req := range reqs {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer forged")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, req.URL.Path)
		assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp).Error.Code)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	papers.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything)
	papers.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	papers.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaperStatsWithToken(t *testing.T) {
	app, papers, a := newRoutedApp(t)
	tok, err := a.Login("admin@example.com", "s3cret")
	require.NoError(t, err)

	papers.On("Stats", mock.Anything, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)).
		Return(&service.Stats{TotalPapers: 7, RecentUploads: []model.Paper{}, ThisMonthUploads: 3}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/papers/stats", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tok.Value)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))

	var body service.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 7, body.TotalPapers)
	assert.Equal(t, 3, body.ThisMonthUploads)
	papers.AssertExpectations(t)
}

func TestRoutesStatsNotShadowedByID(t *testing.T) {
	app, papers, _ := newRoutedApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/papers/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	papers.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestUploadRecordsAdminEmail(t *testing.T) {
	app, papers, a := newRoutedApp(t)
	tok, err := a.Login("admin@example.com", "s3cret")
	require.NoError(t, err)

	papers.On("Upload", mock.Anything, mock.MatchedBy(func(in service.UploadInput) bool {
		return in.UploadedBy == "admin@example.com" && in.Semester == 5
	}), mock.Anything).Return(&model.Paper{ID: uuid.NewString()}, nil).Once()

	body, ct := multipartBody(t, "pdf", []byte("%PDF-1.7"), map[string]string{
		"subject": "Networks", "department": "ECE", "semester": "5", "year": "2022",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/papers/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tok.Value)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	papers.AssertExpectations(t)
}
