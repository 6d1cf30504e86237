// ABOUTME: Registers the demo's frontend actions, tool renders, and state render
// ABOUTME: sayHello greets via a browser alert; get_weather only renders the agent's result

package shell

import (
	"context"
	"fmt"
)

// Demo action names.
const (
	ActionSayHello   = "sayHello"
	ActionGetWeather = "get_weather"
)

// RegisterDemo wires the demo's actions and renders into sh.
func RegisterDemo(sh *Shell) error {
	notifier := sh.Notifier()
	renderer := sh.Renderer()

	err := sh.Registry().Register(Action{
		Name:        ActionSayHello,
		Description: "向指定用户问好",
		Parameters: []Parameter{
			{Name: "name", Type: "string", Description: "要问好的对象名字"},
		},
		Render:    "正在发送问候...",
		Available: AvailabilityEnabled,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name := fmt.Sprint(args["name"])
			if err := notifier.Alert(ctx, "Hello, "+name+"!"); err != nil {
				sh.logger.Warn("greeting alert not delivered", "error", err)
			}
			return "问候已发送给" + name, nil
		},
	})
	if err != nil {
		return fmt.Errorf("registering %s: %w", ActionSayHello, err)
	}

	err = sh.Registry().Register(Action{
		Name:        ActionGetWeather,
		Description: "获取指定位置的天气信息。",
		Parameters: []Parameter{
			{Name: "location", Type: "string", Description: "城市或地区名称", Optional: true},
		},
		Available:  AvailabilityDisabled,
		RenderFunc: renderer.RenderWeather,
	})
	if err != nil {
		return fmt.Errorf("registering %s: %w", ActionGetWeather, err)
	}

	sh.SetInterruptRender(renderer.Interrupt)
	sh.RegisterStateRender(sh.Config().Agent, renderer.StateCompact)
	return nil
}
