package httpapi

import (
	"net/http"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/validation"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	User auth.PublicUser `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validation.Struct(creds); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.svc.Login(r.Context(), creds, clientMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.cookies.set(w, res.AccessToken, res.RefreshToken)
	writeJSON(w, http.StatusOK, res)
}

// handleRefresh takes the refresh token from the body, falling back to the
// refreshToken cookie.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieValue(r, refreshCookie)
	}
	if token == "" {
		writeError(w, r, auth.AuthenticationRequired())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		if auth.HasCode(err, auth.CodeTokenExpired) || auth.HasCode(err, auth.CodeUserNotFound) {
			a.cookies.clear(w)
		}
		writeError(w, r, err)
		return
	}
	a.cookies.set(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout always answers 200; a malformed body only means there is no
// refresh token to revoke.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		_ = decodeJSON(w, r, &req)
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieValue(r, refreshCookie)
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	a.svc.Logout(r.Context(), userID, token, clientMeta(r))
	a.cookies.clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, auth.AuthenticationRequired())
		return
	}
	user, err := a.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: *user})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validation.Struct(in); err != nil {
		writeError(w, r, err)
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	user, err := a.svc.Register(r.Context(), in, actorID, clientMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: *user})
}
