package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/credential-service/internal/utils"
)

// UserID returns the authenticated user id set by InjectClaims.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok && id != 0
}

// AccessToken returns the raw bearer token of the request, or "".
func AccessToken(c echo.Context) string {
	s, _ := c.Get(CtxAccessToken).(string)
	return s
}

// ClaimsFrom returns the verified claims, or nil before VerifySignature ran.
func ClaimsFrom(c echo.Context) *utils.Claims {
	cl, _ := c.Get(CtxClaims).(*utils.Claims)
	return cl
}

// currentUserID is the rate limit identity: the user id when the request is
// authenticated, "anon" otherwise.
func currentUserID(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
