package platform

import "fmt"

// APIError 平台 API 错误（携带 HTTP 状态码）
type APIError struct {
	Platform string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Platform, e.Status, e.Message)
}

// NewAPIError 创建平台 API 错误
func NewAPIError(platform string, status int, message string) *APIError {
	return &APIError{
		Platform: platform,
		Status:   status,
		Message:  message,
	}
}
