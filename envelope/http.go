package envelope

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes resp as the JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes err as an error envelope, deriving the status code from
// its Code.
func WriteError(w http.ResponseWriter, err error) {
	e := FromError(err)
	WriteJSON(w, e.HTTPStatus(), Fail(e))
}

// StatusOf returns the HTTP status for resp: 200 for success, 202 for a
// pending confirmation and the mapped code for errors.
func StatusOf(resp Response) int {
	switch resp.Status() {
	case StatusSuccess:
		return http.StatusOK
	case StatusPending:
		return http.StatusAccepted
	default:
		e, _ := resp.Err()
		return e.HTTPStatus()
	}
}
