package api

import (
	"time"

	"healplus/cmd/identity"
	"healplus/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	created := u.CreatedAt
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: &created,
	}
}

func toIdentity(u identity.User) session.Identity {
	return session.Identity{UserID: u.ID, Email: u.Email, Role: string(u.Role)}
}

func (h *Handler) toAuthResponse(issued session.Issued, user *userResponse) authResponse {
	resp := authResponse{
		AccessToken: issued.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.sessions.Config().AccessTokenTTL / time.Second),
		ExpiresAt:   issued.AccessExp,
		User:        user,
	}
	if h.cfg.RefreshInBody {
		exp := issued.RefreshExp
		resp.RefreshToken = issued.RefreshToken
		resp.RefreshExpiresAt = &exp
	}
	return resp
}

func toSessionInfos(recs []session.Record) []sessionInfo {
	out := make([]sessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionInfo{
			ID:         rec.ID,
			DeviceInfo: rec.DeviceInfo,
			IPAddress:  rec.IPAddress,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
	return out
}
