package routes

import (
	"encoding/json"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/lifecycle"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/triggers"
)

// RegisterControlRoutes 暴露 /-/ 控制通道与诊断接口：
// 宿主应用经由这些端点下发 SKIP_WAITING/GET_VERSION 命令、
// 触发 background-sync/push，并查询当前生命周期状态。
func RegisterControlRoutes(app *fiber.App, registry *server.OriginRegistry, controller *lifecycle.Controller, logger *logrus.Logger) {
	if app == nil || registry == nil || controller == nil {
		return
	}

	app.Post("/-/control", func(c fiber.Ctx) error {
		var msg lifecycle.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}

		reply, err := controller.HandleMessage(c.Context(), msg)
		if err != nil {
			if err == lifecycle.ErrUnknownMessage {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_message"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "control_failed"})
		}
		if reply == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"phase": string(controller.Phase())})
		}
		return c.JSON(reply)
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		names := controller.Partitions()
		payload := fiber.Map{
			"phase": string(controller.Phase()),
			"partitions": fiber.Map{
				"static":  names.Static(),
				"dynamic": names.Dynamic(),
			},
			"origins":  encodeOriginBindings(registry.List()),
			"triggers": triggers.Snapshot([]string{triggers.TaskSyncTag}),
		}
		return c.JSON(payload)
	})

	app.Post("/-/sync", func(c fiber.Ctx) error {
		var body struct {
			Tag string `json:"tag"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_sync_request"})
		}

		handled, err := triggers.FireSync(c.Context(), body.Tag)
		if !handled {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action": "sync",
					"tag":    body.Tag,
				}).Warn("sync_tag_ignored")
			}
			return c.JSON(fiber.Map{"tag": body.Tag, "handled": false})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed"})
		}
		return c.JSON(fiber.Map{"tag": body.Tag, "handled": true})
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		payload := string(c.Body())
		handled, err := triggers.FirePush(c.Context(), triggers.PushTag, payload)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "push_failed"})
		}
		return c.JSON(fiber.Map{"handled": handled})
	})
}

type originBindingPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	App      bool   `json:"app"`
	Port     int    `json:"port"`
}

func encodeOriginBindings(routes []server.OriginRoute) []originBindingPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originBindingPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originBindingPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.Config.Upstream,
			App:      route.Config.App,
			Port:     route.ListenPort,
		})
	}
	return result
}
