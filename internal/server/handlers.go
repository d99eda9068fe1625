package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"polychat/internal/auth"
	"polychat/internal/models"
	"polychat/internal/relay"
	"polychat/internal/store"
	"polychat/internal/translator"
)

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": serviceName,
		"version": Version,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c echo.Context) error {
	catalogs := s.router.ListAllCatalogs(c.Request().Context())
	return c.JSON(http.StatusOK, translator.FromCatalogs(catalogs))
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req translator.ChatStreamRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	turn, err := s.chat.Prepare(ctx, auth.OwnerFrom(c), req.ToUnified())
	if err != nil {
		return toHTTPError(err)
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := resp.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := relay.SinkFunc(func(ev models.Event) error {
		if err := writeSSEData(resp, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	// The status line is already written; failures end the stream and are
	// logged by the chat service.
	_ = turn.Stream(ctx, sink)
	return nil
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func (s *Server) handleListConversations(c echo.Context) error {
	list, err := s.store.ListConversations(c.Request().Context(), auth.OwnerFrom(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.ConversationList(list))
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	title, err := translator.NormalizeTitle(c.QueryParam("title"), store.DefaultTitle)
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	conv, err := s.store.CreateConversation(c.Request().Context(), auth.OwnerFrom(c), title)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.store.GetConversation(c.Request().Context(), auth.OwnerFrom(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(c echo.Context) error {
	var req translator.RenameRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	title, err := translator.NormalizeTitle(req.Title, "")
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	conv, err := s.store.RenameConversation(c.Request().Context(), auth.OwnerFrom(c), c.Param("id"), title)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.DeleteConversation(c.Request().Context(), auth.OwnerFrom(c), id); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.Deleted(id))
}

func (s *Server) handleListMessages(c echo.Context) error {
	list, err := s.store.ListMessages(c.Request().Context(), auth.OwnerFrom(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.MessageList(list))
}
