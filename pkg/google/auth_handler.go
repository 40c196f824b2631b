package google

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/klokku/lunarcal/internal/rest"
	"github.com/klokku/lunarcal/pkg/event"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type authRedirect struct {
	RedirectUrl string `json:"redirectUrl"`
}

type authStatus struct {
	Status event.AuthorizationStatus `json:"status"`
}

func (a *Auth) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	nonce := uuid.New().String()
	if err := a.settings.SetValue(r.Context(), stateKey, nonce); err != nil {
		log.Errorf("Failed to store Google auth state: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", err.Error())
		return
	}

	finalUrl := r.URL.Query().Get("finalUrl")
	log.Tracef("Redirecting to Google auth URL with nonce: %s", nonce)
	u := a.oauthConfig.AuthCodeURL(finalUrl+"|"+nonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	rest.WriteJSON(w, http.StatusOK, authRedirect{RedirectUrl: u})
}

func (a *Auth) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	finalUrl, nonce, ok := strings.Cut(r.FormValue("state"), "|")
	if !ok {
		rest.WriteError(w, http.StatusBadRequest, "Invalid authentication state", "")
		return
	}
	if finalUrl == "" {
		finalUrl = "/"
	}
	stored, found, err := a.settings.GetValue(ctx, stateKey)
	if err != nil || !found || stored != nonce {
		log.Warnf("Rejecting Google auth callback with unknown state")
		rest.WriteError(w, http.StatusBadRequest, "Invalid authentication state", "")
		return
	}

	token, err := a.oauthConfig.Exchange(ctx, r.FormValue("code"))
	if err != nil {
		log.Errorf("Unable to exchange code for Google token: %v", err)
		if err := a.settings.SetValue(ctx, deniedKey, "true"); err != nil {
			log.Errorf("Failed to store Google auth result: %v", err)
		}
		a.statusChanged(ctx)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}
	if err := a.saveToken(ctx, token); err != nil {
		log.Errorf("Unable to store Google token: %v", err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}
	if err := a.settings.DeleteValue(ctx, stateKey); err != nil {
		log.Warnf("Failed to clear Google auth state: %v", err)
	}

	log.Info("Google account connected")
	a.statusChanged(ctx)
	http.Redirect(w, r, finalUrl+"?success=true", http.StatusFound)
}

func (a *Auth) OAuthLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.clear(r.Context()); err != nil {
		log.Errorf("Failed to remove Google token: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle Google authentication", err.Error())
		return
	}
	log.Info("Google account disconnected")
	a.statusChanged(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *Auth) GetStatus(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, authStatus{Status: a.Status(r.Context())})
}
