package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/handler"
	"github.com/iliyamo/auction-bidding/internal/middleware"
)

// Handlers groups every HTTP handler the API serves.
type Handlers struct {
	Auth          *handler.AuthHandler
	Auctions      *handler.AuctionHandler
	Registrations *handler.RegistrationHandler
	Bids          *handler.BidHandler
	Limits        *handler.LimitHandler
	Stream        *handler.StreamHandler
}

// Middlewares are the optional Redis-backed layers. Nil entries are skipped.
type Middlewares struct {
	Cache        echo.MiddlewareFunc // public GET responses
	RateLimit    echo.MiddlewareFunc // whole API
	BidRateLimit echo.MiddlewareFunc // bid submission, per user and auction
}

// RegisterRoutes exposes the liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db *database.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers sign-up, sign-in and token routes under /v1/auth.
// Logout accepts either a refresh token in the body or a bearer token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// rotates the refresh token
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireBidder())
	auth.GET("/me", a.Me)
}

// RegisterPublic registers the read-only catalogue. Responses may be served
// from the Redis cache.
func RegisterPublic(e *echo.Echo, h Handlers, mw Middlewares) {
	g := e.Group("/v1")
	if mw.Cache != nil {
		g.Use(mw.Cache)
	}
	g.GET("/auctions", h.Auctions.List)
	g.GET("/auctions/:id", h.Auctions.Get)
	g.GET("/auctions/:id/lots", h.Auctions.ListLots)
	g.GET("/lots/:id", h.Auctions.GetLot)
}

// RegisterBidder registers the signed-in user's endpoints.
func RegisterBidder(e *echo.Echo, h Handlers, mw Middlewares, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireBidder())

	g.GET("/auctions/:id/registration", h.Registrations.Get)
	g.POST("/auctions/:id/registration", h.Registrations.Request)
	g.DELETE("/auctions/:id/registration", h.Registrations.Cancel)
	g.GET("/me/registrations", h.Registrations.ListMine)

	submit := []echo.MiddlewareFunc{}
	if mw.BidRateLimit != nil {
		submit = append(submit, mw.BidRateLimit)
	}
	g.POST("/auctions/:id/bids", h.Bids.Submit, submit...)
	g.GET("/auctions/:id/bids", h.Bids.ListForAuction)
	g.GET("/auctions/:id/state", h.Bids.GetState)
	g.GET("/lots/:id/leading", h.Bids.Leading)
	g.GET("/my-bids", h.Bids.MyBids)

	g.GET("/me/bid-limit", h.Limits.Mine)
	g.GET("/me/bid-limit/requests", h.Limits.MyRequests)
	g.POST("/me/bid-limit/requests", h.Limits.RequestIncrease)
}

// RegisterAdmin registers administrator endpoints under /v1/admin. The
// role middleware only screens tokens; every mutation re-checks the stored
// role inside its transaction.
func RegisterAdmin(e *echo.Echo, h Handlers, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequirePrivileged())

	g.POST("/auctions", h.Auctions.Create)
	g.PUT("/auctions/:id", h.Auctions.Update)
	g.POST("/auctions/:id/lots", h.Auctions.CreateLot)
	g.PUT("/lots/:id", h.Auctions.UpdateLot)
	g.PUT("/lots/:id/image", h.Auctions.UploadLotImage)
	g.DELETE("/lots/:id/image", h.Auctions.DeleteLotImage)

	g.GET("/auctions/:id/registrations", h.Registrations.List)
	g.POST("/registrations/:id/approve", h.Registrations.Approve)
	g.POST("/registrations/:id/reject", h.Registrations.Reject)
	g.POST("/auctions/:id/registrations/:user_id/reopen", h.Registrations.Reopen)

	g.GET("/lots/:id/bids", h.Bids.ListByLot)
	g.POST("/bids/:id/approve", h.Bids.Approve)
	g.POST("/bids/:id/reject", h.Bids.Reject)
	g.POST("/bids/:id/winner", h.Bids.DeclareWinner)
	g.POST("/auctions/:id/lots/:lot_id/start", h.Bids.StartLot)

	g.GET("/users/:id/limit", h.Limits.Get)
	g.PUT("/users/:id/limit", h.Limits.Set)
	g.GET("/limit-requests", h.Limits.ListRequests)
	g.POST("/limit-requests/:id/approve", h.Limits.ApproveRequest)
	g.POST("/limit-requests/:id/reject", h.Limits.RejectRequest)
	g.GET("/failed-bids", h.Limits.FailedAttempts)
}

// RegisterStream registers the Server-Sent Events endpoints. Tokens may be
// passed as ?access_token= since EventSource cannot set headers.
func RegisterStream(e *echo.Echo, s *handler.StreamHandler, jwtSecret string) {
	g := e.Group("/v1/stream", middleware.JWTAuth(jwtSecret), middleware.RequireBidder())
	g.GET("/auctions/:id", s.Auction)
	g.GET("/me", s.Me)
}

// Register wires every route group onto e.
func Register(e *echo.Echo, db *database.DB, h Handlers, mw Middlewares, jwtSecret string) {
	if mw.RateLimit != nil {
		e.Use(mw.RateLimit)
	}
	RegisterRoutes(e, db)
	RegisterAuth(e, h.Auth, jwtSecret)
	RegisterPublic(e, h, mw)
	RegisterBidder(e, h, mw, jwtSecret)
	RegisterAdmin(e, h, jwtSecret)
	RegisterStream(e, h.Stream, jwtSecret)
}
