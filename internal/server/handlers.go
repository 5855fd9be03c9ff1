package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"gitpress/internal/auth"
	"gitpress/internal/constants"
	"gitpress/internal/githost"
	"gitpress/internal/publish"
	"gitpress/internal/security"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxLoginBodySize)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}
	if req.Username == "" || req.Password == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, constants.MsgMissingFields)
		return
	}

	ip := security.GetClientIP(r)
	token, err := s.Gateway.Login(r.Context(), req.Username, req.Password, req.Code, ip)
	switch {
	case errors.Is(err, auth.ErrThrottled):
		s.Audit.LogThrottled(ip)
		writeError(w, http.StatusTooManyRequests, constants.MsgThrottled)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.Audit.LogLoginFailure(ip, "Invalid username or password")
		writeError(w, http.StatusUnauthorized, constants.MsgInvalidCredentials)
		return
	case errors.Is(err, auth.ErrInvalidTOTP):
		s.Audit.LogLoginFailure(ip, "Invalid one-time code")
		writeError(w, http.StatusUnauthorized, constants.MsgInvalid2FA)
		return
	case err != nil:
		log.Printf("login error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.Audit.LogLoginSuccess(ip, req.Username)
	s.Gateway.Codec().SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"username": req.Username,
	})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}

	s.Gateway.Codec().ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}

	identity, err := s.Gateway.RequireAuth(auth.FromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"username":      identity,
	})
}

// requireAuth gates every mutating endpoint. It returns the identity or
// writes the 401 and returns "".
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) string {
	identity, err := s.Gateway.RequireAuth(auth.FromRequest(r))
	if err != nil {
		s.Audit.LogSessionRejected(security.GetClientIP(r))
		writeError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
		return ""
	}
	return identity
}

// writeRemoteError maps the remote error taxonomy onto HTTP statuses. The
// store's own response bodies never reach the caller. A rejected write
// credential also invalidates the local session as defense in depth.
func (s *Server) writeRemoteError(w http.ResponseWriter, err error) {
	var remoteErr *githost.RemoteError
	switch {
	case errors.Is(err, githost.ErrRemoteUnauthorized):
		s.Gateway.Codec().ClearCookie(w)
		writeError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
	case errors.Is(err, githost.ErrSlowDown):
		writeError(w, http.StatusUnprocessableEntity, constants.MsgSlowDown)
	case errors.Is(err, githost.ErrConflict):
		writeError(w, http.StatusConflict, constants.MsgConflict)
	case errors.Is(err, githost.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.As(err, &remoteErr):
		log.Printf("remote failure: %v", err)
		writeError(w, http.StatusBadGateway, remoteErr.Error())
	default:
		log.Printf("operation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Operation failed")
	}
}

// treeItemParam is the wire form of a tree mutation. A literal null sha means
// "delete this path", which a plain string field cannot express.
type treeItemParam struct {
	Path    string          `json:"path"`
	Mode    string          `json:"mode"`
	Type    string          `json:"type"`
	Content string          `json:"content"`
	SHA     json.RawMessage `json:"sha"`
}

func (p treeItemParam) toEntry() (githost.TreeEntry, error) {
	entry := githost.TreeEntry{
		Path:    p.Path,
		Mode:    p.Mode,
		Type:    p.Type,
		Content: p.Content,
	}
	if len(p.SHA) > 0 {
		if string(p.SHA) == "null" {
			entry.Delete = true
		} else {
			var sha string
			if err := json.Unmarshal(p.SHA, &sha); err != nil {
				return entry, err
			}
			entry.SHA = sha
		}
	}
	return entry, nil
}

func (s *Server) HandleRemoteOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}

	identity := s.requireAuth(w, r)
	if identity == "" {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxBodySize)

	var req struct {
		Operation string          `json:"operation"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}

	s.Audit.LogRemoteOp(security.GetClientIP(r), identity, req.Operation)

	ctx := r.Context()
	switch req.Operation {
	case "getRef":
		var p struct {
			Ref string `json:"ref"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Ref == "" {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		sha, err := s.Client.GetRef(ctx, p.Ref)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sha": sha})

	case "createBlob":
		var p struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		if p.Encoding == "" {
			p.Encoding = "base64"
		}
		sha, err := s.Client.CreateBlob(ctx, p.Content, p.Encoding)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sha": sha})

	case "createTree":
		var p struct {
			Tree     []treeItemParam `json:"tree"`
			BaseTree string          `json:"baseTree"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		entries := make([]githost.TreeEntry, 0, len(p.Tree))
		for _, item := range p.Tree {
			entry, err := item.toEntry()
			if err != nil {
				writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
				return
			}
			entries = append(entries, entry)
		}
		sha, err := s.Client.CreateTree(ctx, entries, p.BaseTree)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sha": sha})

	case "createCommit":
		var p struct {
			Message string   `json:"message"`
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Tree == "" {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		sha, err := s.Client.CreateCommit(ctx, p.Message, p.Tree, p.Parents)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sha": sha})

	case "updateRef":
		var p struct {
			Ref   string `json:"ref"`
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Ref == "" || p.SHA == "" {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		if err := s.Client.UpdateRef(ctx, p.Ref, p.SHA, p.Force); err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case "getFileSha":
		var p struct {
			Path   string `json:"path"`
			Branch string `json:"branch"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || !security.ValidatePath(p.Path) {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		sha, err := s.Client.StatFile(ctx, p.Path, p.Branch)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		// An empty sha is the explicit "absent" result, not an error.
		writeJSON(w, http.StatusOK, map[string]interface{}{"sha": orNil(sha)})

	case "putFile":
		var p struct {
			Path          string `json:"path"`
			ContentBase64 string `json:"contentBase64"`
			Message       string `json:"message"`
			Branch        string `json:"branch"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || !security.ValidatePath(p.Path) {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		if err := s.Client.PutFile(ctx, p.Path, p.ContentBase64, p.Message, p.Branch); err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case "readTextFile":
		var p struct {
			Path string `json:"path"`
			Ref  string `json:"ref"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || !security.ValidatePath(p.Path) {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		content, ok, err := s.Client.ReadTextFile(ctx, p.Path, p.Ref)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"content": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": content})

	case "listFiles":
		var p struct {
			Path string `json:"path"`
			Ref  string `json:"ref"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || !security.ValidatePath(p.Path) {
			writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
			return
		}
		files, err := s.Client.ListFiles(ctx, p.Path, p.Ref)
		if err != nil {
			s.writeRemoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"files": files})

	default:
		writeError(w, http.StatusBadRequest, constants.MsgUnknownOperation)
	}
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Server) HandlePublishPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}
	identity := s.requireAuth(w, r)
	if identity == "" {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxBodySize)

	var in publish.PostInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}
	if !security.ValidateSlug(in.Slug) || (in.OriginalSlug != "" && !security.ValidateSlug(in.OriginalSlug)) {
		writeError(w, http.StatusBadRequest, "Invalid slug")
		return
	}

	res, err := s.Builder.PublishPost(r.Context(), identity, in)
	if err != nil {
		s.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) HandleDeletePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}
	identity := s.requireAuth(w, r)
	if identity == "" {
		return
	}

	var in struct {
		Slug  string `json:"slug"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}
	if !security.ValidateSlug(in.Slug) {
		writeError(w, http.StatusBadRequest, "Invalid slug")
		return
	}

	res, err := s.Builder.DeletePost(r.Context(), identity, in.Slug, in.Force)
	if err != nil {
		s.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) HandleSaveEdits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}
	identity := s.requireAuth(w, r)
	if identity == "" {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxBodySize)

	var in publish.EditsInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}
	for _, slug := range in.Removed {
		if !security.ValidateSlug(slug) {
			writeError(w, http.StatusBadRequest, "Invalid slug")
			return
		}
	}

	res, err := s.Builder.SaveEdits(r.Context(), identity, in)
	if err != nil {
		s.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) HandlePushListing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}
	identity := s.requireAuth(w, r)
	if identity == "" {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxBodySize)

	var in publish.ListingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}

	res, err := s.Builder.PushListing(r.Context(), identity, in)
	if err != nil {
		s.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSetup2FA enrolls a new one-time-code secret. Only for initial setup,
// hard-disabled in production.
func (s *Server) HandleSetup2FA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
		return
	}
	if s.Cfg.Production {
		writeError(w, http.StatusForbidden, "Disabled in production")
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      constants.TOTPIssuer,
		AccountName: s.Cfg.AdminUsername,
		SecretSize:  32,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate secret")
		return
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render QR code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret": key.Secret(),
		"qrCode": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}
