package db

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/inspection.station/internal/httputil"
)

// AttachAdminRoutes mounts SQL live debugging and a raw view of the stored
// devices and command log under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Station DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("stored-devices", "Serial devices as stored in the database", func(w http.ResponseWriter, r *http.Request) {
		set, err := db.Load()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, set)
	})

	debug.HandleFunc("device-commands", "Most recent commands sent to devices", func(w http.ResponseWriter, r *http.Request) {
		cmds, err := db.RecentCommands(r.URL.Query().Get("device_id"), 100)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, cmds)
	})
	return nil
}
