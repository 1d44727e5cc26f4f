package iostools

import "github.com/pulsegrid/mcpcore/internal/rpc"

func prop(t, desc string) rpc.PropertySchema { return rpc.PropertySchema{Type: t, Description: desc} }

func listDevicesTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_device_list",
		Description: "List available simulator devices, normalized to {udid, name, runtime, state, platform}.",
		InputSchema: rpc.InputSchema{Type: "object"},
	}
}

func ensureBootedTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_device_ensure_booted",
		Description: "Boot a simulator device if it is currently Shutdown and wait for it to reach Booted.",
		InputSchema: rpc.InputSchema{
			Type:       "object",
			Properties: map[string]rpc.PropertySchema{"udid": prop("string", "Simulator device UDID")},
			Required:   []string{"udid"},
		},
	}
}

func sessionCreateTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_create",
		Description: "Start (or reuse) a test-runner subprocess for a device and create a session bound to bundleId, swapping out any previous session first.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid":         prop("string", "Simulator device UDID"),
				"bundleId":     prop("string", "Application bundle id to launch; defaults to the configured bundle"),
				"contextIndex": prop("number", "Port offset for this device's runner instance"),
			},
			Required: []string{"udid"},
		},
	}
}

func tapTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_tap",
		Description: "Tap at (x, y) on the device's screen. If bundleId is given and differs from the active session, swaps sessions first.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid":     prop("string", "Simulator device UDID"),
				"bundleId": prop("string", "Optional bundle id to ensure is active before tapping"),
				"x":        prop("number", "X coordinate"),
				"y":        prop("number", "Y coordinate"),
			},
			Required: []string{"udid", "x", "y"},
		},
	}
}

func swipeTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_swipe",
		Description: "Swipe from (x1, y1) to (x2, y2) on the device's screen.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid": prop("string", "Simulator device UDID"),
				"x1":   prop("number", "Start X"), "y1": prop("number", "Start Y"),
				"x2": prop("number", "End X"), "y2": prop("number", "End Y"),
			},
			Required: []string{"udid", "x1", "y1", "x2", "y2"},
		},
	}
}

func typeTextTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_type_text",
		Description: "Type text into the currently focused element.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid": prop("string", "Simulator device UDID"),
				"text": prop("string", "Text to type"),
			},
			Required: []string{"udid", "text"},
		},
	}
}

func pressButtonTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_press_button",
		Description: "Press a hardware button (home, lock, volumeUp, volumeDown).",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid":   prop("string", "Simulator device UDID"),
				"button": rpc.PropertySchema{Type: "string", Enum: []string{"home", "lock", "volumeUp", "volumeDown"}},
			},
			Required: []string{"udid", "button"},
		},
	}
}

func pageSourceTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_page_source",
		Description: "Return the accessibility tree of the foreground application.",
		InputSchema: rpc.InputSchema{
			Type:       "object",
			Properties: map[string]rpc.PropertySchema{"udid": prop("string", "Simulator device UDID")},
			Required:   []string{"udid"},
		},
	}
}

func launchTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_launch",
		Description: "Launch an application by bundle id, swapping out any previously active session on the device.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"udid":     prop("string", "Simulator device UDID"),
				"bundleId": prop("string", "Application bundle id; defaults to the configured bundle"),
			},
			Required: []string{"udid"},
		},
	}
}

func terminateTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_session_terminate",
		Description: "Terminate the active session on a device, if any. Idempotent.",
		InputSchema: rpc.InputSchema{
			Type:       "object",
			Properties: map[string]rpc.PropertySchema{"udid": prop("string", "Simulator device UDID")},
			Required:   []string{"udid"},
		},
	}
}

func confirmTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_confirm",
		Description: "Redeem a confirmation token issued for a policy-gated ios_* command.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"confirmationToken": prop("string", "Token returned by the original command"),
				"actor":             prop("string", "Principal confirming the action"),
			},
			Required: []string{"confirmationToken"},
		},
	}
}

func inspectorScreenshotTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_inspector_screenshot",
		Description: "Capture a screenshot of a WebKit inspector target via its WebSocket debugger session.",
		InputSchema: rpc.InputSchema{
			Type:       "object",
			Properties: map[string]rpc.PropertySchema{"targetId": prop("string", "Inspector target id from /json/list")},
			Required:   []string{"targetId"},
		},
	}
}

func inspectorEvaluateTool() rpc.Tool {
	return rpc.Tool{
		Name:        "ios_inspector_evaluate",
		Description: "Evaluate a JavaScript expression against a WebKit inspector target.",
		InputSchema: rpc.InputSchema{
			Type: "object",
			Properties: map[string]rpc.PropertySchema{
				"targetId":   prop("string", "Inspector target id from /json/list"),
				"expression": prop("string", "JavaScript expression to evaluate"),
			},
			Required: []string{"targetId", "expression"},
		},
	}
}
