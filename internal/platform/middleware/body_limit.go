package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies: jsonLimit for regular API calls and
// uploadLimit for multipart requests carrying lab files or form attachments.
// Limits use echo's size syntax ("512K", "1M", "30M").
func BodyLimit(jsonLimit, uploadLimit string) echo.MiddlewareFunc {
	json := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   jsonLimit,
		Skipper: isMultipart,
	})
	upload := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   uploadLimit,
		Skipper: func(c echo.Context) bool { return !isMultipart(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return json(upload(next))
	}
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}
