package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"equityfeed/internal/logic"
	"equityfeed/internal/svc"
	"equityfeed/internal/types"
)

func BatchHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.BatchRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, badRequest(err))
			return
		}

		l := logic.NewBatchLogic(r.Context(), svcCtx)
		resp, err := l.Batch(&req)
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}
