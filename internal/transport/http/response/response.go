package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeNotFound           = 40400
	CodeRunNotFound        = 40401
	CodeDocumentBusy       = 40900
	CodePayloadTooLarge    = 41300
	CodeUnsupportedType    = 41500
	CodeDimensionMismatch  = 42200
	CodeInternalServer     = 50000
	CodeEmbeddingFailed    = 50200
	CodeServiceUnavailable = 50300
	CodeTimeout            = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	JSON(c, 200, data)
}

// JSON writes a successful envelope with a status other than 200, e.g. 202 for queued work.
func JSON(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
