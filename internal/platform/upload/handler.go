package upload

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// FormField is the multipart field carrying the image.
const FormField = "image"

type Handler struct {
	store ImageStore
}

func NewHandler(store ImageStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/upload", h.Upload, auth.RequireCapability(auth.CapUpload))
}

type uploadResponse struct {
	ImagePath string `json:"imagePath"`
}

func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile(FormField)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindPayloadTooLarge {
			return apierr.BadBody(err)
		}
		return apierr.Validation("MissingField", "multipart field %q is required", FormField)
	}

	src, err := file.Open()
	if err != nil {
		return apierr.Internal(err, "open uploaded file")
	}
	defer src.Close()

	path, err := h.store.Store(c.Request().Context(), FormField, file.Filename, src)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedType):
			return apierr.UnsupportedMedia("%s", err.Error())
		case errors.Is(err, ErrFileTooLarge):
			return apierr.Validation("FileTooLarge", "%s", err.Error())
		case errors.Is(err, ErrEmptyFile):
			return apierr.Validation("EmptyFile", "%s", err.Error())
		default:
			return apierr.Internal(err, "store upload")
		}
	}

	return c.JSON(http.StatusOK, uploadResponse{ImagePath: path})
}
