// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"

	"equityfeed/internal/svc"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	httpx.SetErrorHandlerCtx(errorHandler)
	server.AddRoutes(routes(serverCtx), rest.WithPrefix("/api/v1"))
}

func routes(serverCtx *svc.ServiceContext) []rest.Route {
	return []rest.Route{
		{Method: http.MethodGet, Path: "/snapshot/:symbol", Handler: SnapshotHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/history/:symbol", Handler: HistoryHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/indicators/:symbol", Handler: IndicatorsHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/statements/:symbol", Handler: StatementsHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/names/:symbol", Handler: NameHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/directory", Handler: DirectoryHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/batch", Handler: BatchHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/cache/check", Handler: CacheCheckHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/cache/repair/:kind", Handler: CacheRepairHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/cache/reset", Handler: CacheResetHandler(serverCtx)},
	}
}
