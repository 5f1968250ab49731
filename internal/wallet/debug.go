package wallet

import (
	"encoding/json"
	"net/http"
)

// DebugHandler 返回 /debug/wallet 所需的 handler。
func (w *Wallet) DebugHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		snapshot := w.Snapshot(r.Context())
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(snapshot)
	})
}
