package admin

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

const minPasswordLength = 12

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SuperAdmin bool   `json:"super_admin"`
	Disabled   bool   `json:"disabled"`
	CreatedAt  int64  `json:"created_at"`
}

func userToResponse(u store.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		Name:       u.Name,
		SuperAdmin: u.SuperAdmin,
		Disabled:   u.Disabled,
		CreatedAt:  u.CreatedAt.Unix(),
	}
}

func (h *adminHandler) listUsers(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}

	users, err := h.container.Queries.ListUsers(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "user listing failed")
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userToResponse(u))
	}
	return c.JSON(fiber.Map{"users": resp})
}

func (h *adminHandler) createUser(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Email      string `json:"email"`
		Name       string `json:"name"`
		Password   string `json:"password"`
		SuperAdmin bool   `json:"super_admin"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "email is required")
	}
	if req.Password != "" && len(req.Password) < minPasswordLength {
		return httputil.WriteError(c, fiber.StatusBadRequest, "password is too short")
	}

	var hash string
	if req.Password != "" {
		hash, err = auth.HashSecret(req.Password)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "user creation failed")
		}
	}

	created, err := h.container.Queries.CreateUser(userContext(c), store.CreateUserParams{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		SuperAdmin:   req.SuperAdmin,
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "user creation failed")
	}
	if _, err := h.container.Accounts.EnsurePersonalTenant(userContext(c), created); err != nil {
		h.container.Logger.Warn("personal tenant provisioning failed", "user_id", created.ID, "error", err)
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "user.create", "user", created.ID.String(), fiber.Map{"email": created.Email})
	return c.Status(fiber.StatusCreated).JSON(userToResponse(created))
}

func (h *adminHandler) updateUser(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req struct {
		Name       string `json:"name"`
		SuperAdmin *bool  `json:"super_admin"`
		Disabled   *bool  `json:"disabled"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.container.Queries.UpdateUser(userContext(c), store.UpdateUserParams{
		ID:         userID,
		Name:       strings.TrimSpace(req.Name),
		SuperAdmin: req.SuperAdmin,
		Disabled:   req.Disabled,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "user not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "user update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "user.update", "user", userID.String(), req)
	return c.JSON(userToResponse(updated))
}

func (h *adminHandler) setUserPassword(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || len(req.Password) < minPasswordLength {
		return httputil.WriteError(c, fiber.StatusBadRequest, "password is too short")
	}

	if err := h.container.Sessions.SetLocalPassword(userContext(c), userID, req.Password); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "password update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "user.set_password", "user", userID.String(), nil)
	return c.JSON(fiber.Map{"updated": true})
}

// disableUser disables the account and revokes every API key it owns.
func (h *adminHandler) disableUser(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}

	revoked, err := h.container.Accounts.DisableUser(userContext(c), userID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "user disable failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "user.disable", "user", userID.String(), fiber.Map{"keys_revoked": revoked})
	return c.JSON(fiber.Map{"disabled": true, "keys_revoked": revoked})
}
