package handler

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"pyqapi/internal/auth"
	"pyqapi/internal/http/middleware"
	"pyqapi/internal/model"
	"pyqapi/internal/service"
)

// Authenticator issues and verifies admin tokens.
type Authenticator interface {
	auth.Verifier
	Login(email, password string) (*auth.Token, error)
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Papers    service.PaperService
	Downloads service.DownloadService
	Auth      Authenticator
	// Now defaults to time.Now.
	Now func() time.Time
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	admin := middleware.RequireAdmin(d.Auth)
	api := app.Group("/api")

	api.Post("/auth/login", middleware.NoStore(), Login(d.Auth))

	api.Post("/papers/upload", admin, UploadPaper(d.Papers))
	api.Get("/papers", ListPapers(d.Papers))
	api.Get("/papers/stats", admin, middleware.NoStore(), PaperStats(d.Papers, d.Now))
	api.Get("/papers/download/:id", DownloadPaper(d.Downloads))
	api.Get("/papers/:id", GetPaper(d.Papers))
	api.Delete("/papers/:id", admin, DeletePaper(d.Papers))
}

// HealthCheck reports database connectivity.
//
//	@Summary	Readiness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Failure	503	{object}	errorPayload
//	@Router		/health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
//
//	@Summary	Liveness probe
//	@Tags		health
//	@Success	200
//	@Router		/healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges admin credentials for a bearer token.
//
//	@Summary	Admin login
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		loginRequest	true	"Admin credentials"
//	@Success	200		{object}	loginResponse
//	@Failure	400		{object}	errorPayload
//	@Failure	401		{object}	errorPayload
//	@Router		/api/auth/login [post]
func Login(a Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req loginRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "email and password are required")
		}

		tok, err := a.Login(req.Email, req.Password)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(loginResponse{Message: "Login successful", Token: tok.Value, ExpiresAt: tok.ExpiresAt})
	}
}

type uploadResponse struct {
	Message string       `json:"message"`
	Paper   *model.Paper `json:"paper"`
}

// UploadPaper accepts one PDF (form field "pdf", or "file") with its metadata.
//
//	@Summary	Upload a question paper
//	@Tags		papers
//	@Accept		multipart/form-data
//	@Produce	json
//	@Security	BearerAuth
//	@Param		pdf			formData	file	true	"PDF file"
//	@Param		subject		formData	string	true	"Subject"
//	@Param		department	formData	string	true	"Department"
//	@Param		semester	formData	int		true	"Semester (1-8)"
//	@Param		year		formData	int		true	"Exam year"
//	@Success	201			{object}	uploadResponse
//	@Failure	400			{object}	errorPayload
//	@Failure	401			{object}	errorPayload
//	@Failure	500			{object}	errorPayload
//	@Router		/api/papers/upload [post]
func UploadPaper(svc service.PaperService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "no PDF uploaded")
		}
		files := form.File["pdf"]
		if len(files) == 0 {
			files = form.File["file"]
		}
		switch {
		case len(files) == 0:
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "no PDF uploaded")
		case len(files) > 1:
			return writeError(c, fiber.StatusBadRequest, "TOO_MANY_FILES", "exactly one PDF must be uploaded")
		}

		in, err := service.ParseUploadInput(
			c.FormValue("subject"),
			c.FormValue("department"),
			c.FormValue("semester"),
			c.FormValue("year"),
		)
		if err != nil {
			return writeServiceError(c, err)
		}
		if claims := middleware.ClaimsFromCtx(c); claims != nil {
			in.UploadedBy = claims.Email
		}

		f, err := files[0].Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		paper, err := svc.Upload(c.UserContext(), in, f)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(uploadResponse{Message: "Paper uploaded successfully", Paper: paper})
	}
}

type legacyListResponse struct {
	Count  int           `json:"count"`
	Papers []model.Paper `json:"papers"`
}

// ListPapers filters papers. With page or pageSize it paginates, otherwise it returns the legacy {count, papers} shape.
//
//	@Summary	List question papers
//	@Tags		papers
//	@Produce	json
//	@Param		department	query		string	false	"Department (exact)"
//	@Param		semester	query		int		false	"Semester (exact)"
//	@Param		year		query		int		false	"Year (exact)"
//	@Param		subject		query		string	false	"Subject (case-insensitive substring)"
//	@Param		page		query		int		false	"Page, 1-indexed"
//	@Param		pageSize	query		int		false	"Page size (default 10, max 100)"
//	@Success	200			{object}	service.PaperListResult
//	@Failure	400			{object}	errorPayload
//	@Failure	500			{object}	errorPayload
//	@Router		/api/papers [get]
func ListPapers(svc service.PaperService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter, err := service.ParseFilter(c.Query("department"), c.Query("semester"), c.Query("year"), c.Query("subject"))
		if err != nil {
			return writeServiceError(c, err)
		}

		pageStr, sizeStr := c.Query("page"), c.Query("pageSize")
		if pageStr == "" && sizeStr == "" {
			papers, err := svc.ListAll(c.UserContext(), filter)
			if err != nil {
				return writeServiceError(c, err)
			}
			return c.JSON(legacyListResponse{Count: len(papers), Papers: papers})
		}

		page, err := queryInt(pageStr, 1)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGE", "invalid page")
		}
		size, err := queryInt(sizeStr, service.DefaultPageSize)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGE_SIZE", "invalid pageSize")
		}

		res, err := svc.List(c.UserContext(), service.ListParams{Filter: filter, Page: page, PageSize: size})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// PaperStats reports collection totals for the admin dashboard.
//
//	@Summary	Upload statistics
//	@Tags		papers
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	service.Stats
//	@Failure	401	{object}	errorPayload
//	@Failure	500	{object}	errorPayload
//	@Router		/api/papers/stats [get]
func PaperStats(svc service.PaperService, now func() time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := svc.Stats(c.UserContext(), now())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(stats)
	}
}

// GetPaper returns one paper.
//
//	@Summary	Get a question paper
//	@Tags		papers
//	@Produce	json
//	@Param		id	path		string	true	"Paper ID"
//	@Success	200	{object}	model.Paper
//	@Failure	404	{object}	errorPayload
//	@Router		/api/papers/{id} [get]
func GetPaper(svc service.PaperService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(p)
	}
}

// DownloadPaper streams the paper's PDF as an attachment.
//
//	@Summary	Download a question paper
//	@Tags		papers
//	@Produce	application/pdf
//	@Param		id	path	string	true	"Paper ID"
//	@Success	200	{file}	binary
//	@Failure	404	{object}	errorPayload
//	@Failure	500	{object}	errorPayload
//	@Router		/api/papers/download/{id} [get]
func DownloadPaper(svc service.DownloadService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := svc.ResolveAndDownload(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Attachment(res.Filename)
		c.Set(fiber.HeaderContentType, res.ContentType)
		return c.Send(res.Data)
	}
}

type deleteResponse struct {
	Message        string `json:"message"`
	ID             string `json:"id"`
	StorageDeleted bool   `json:"storageDeleted"`
}

// DeletePaper removes a paper and its stored PDF.
//
//	@Summary	Delete a question paper
//	@Tags		papers
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Paper ID"
//	@Success	200	{object}	deleteResponse
//	@Failure	401	{object}	errorPayload
//	@Failure	404	{object}	errorPayload
//	@Router		/api/papers/{id} [delete]
func DeletePaper(svc service.PaperService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := svc.Delete(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(deleteResponse{
			Message:        "Paper deleted successfully",
			ID:             res.ID,
			StorageDeleted: res.StorageDeleted,
		})
	}
}
