package api

import "fleetbroker/pkg/openapi"

func ok(desc string) map[string]any {
	return map[string]any{"description": desc}
}

func jsonBody(props map[string]string, required ...string) map[string]any {
	properties := map[string]any{}
	for name, typ := range props {
		properties[name] = map[string]string{"type": typ}
	}
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"type": "object", "properties": properties, "required": required},
			},
		},
	}
}

func (a *App) describe() *openapi.Registry {
	reg := openapi.NewRegistry()
	account := jsonBody(map[string]string{"title": "string", "roleArn": "string"}, "title", "roleArn")

	reg.Register(openapi.Operation{Method: "POST", Path: "/v1/accounts", Summary: "Onboard an account", Tags: []string{"accounts"},
		RequestBody: account, Responses: map[string]any{"201": ok("Account created"), "409": ok("Role already registered"), "422": ok("Role not accepted as a principal")}})
	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/accounts", Summary: "List the caller's accounts", Tags: []string{"accounts"},
		Responses: map[string]any{"200": ok("Accounts")}})
	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/accounts/{id}", Summary: "Get an account", Tags: []string{"accounts"},
		Responses: map[string]any{"200": ok("Account"), "403": ok("Not the owner"), "404": ok("Unknown account")}})
	reg.Register(openapi.Operation{Method: "PUT", Path: "/v1/accounts/{id}", Summary: "Edit an account", Tags: []string{"accounts"},
		RequestBody: account, Responses: map[string]any{"200": ok("Account updated")}})
	reg.Register(openapi.Operation{Method: "DELETE", Path: "/v1/accounts/{id}", Summary: "Offboard an account", Tags: []string{"accounts"},
		Responses: map[string]any{"204": ok("Account removed")}})

	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/regions", Summary: "Regions enabled for the account", Tags: []string{"fleet"}, Scoped: true,
		Responses: map[string]any{"200": ok("Region names")}})
	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/servers", Summary: "List running servers", Tags: []string{"fleet"}, Scoped: true,
		Description: "Queries ?region= (repeatable or comma separated), defaulting to the account's active regions.",
		Responses:   map[string]any{"200": ok("Servers, newest first")}})
	reg.Register(openapi.Operation{Method: "POST", Path: "/v1/servers", Summary: "Provision a server", Tags: []string{"servers"}, Scoped: true,
		RequestBody: jsonBody(map[string]string{"name": "string", "region": "string", "type": "string", "option": "string"}, "name", "region", "type", "option"),
		Responses:   map[string]any{"201": ok("Server running with a public address"), "503": ok("No capacity"), "504": ok("Timed out waiting for the instance")}})
	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/servers/{region}/{id}", Summary: "Get a server", Tags: []string{"servers"}, Scoped: true,
		Responses: map[string]any{"200": ok("Server"), "404": ok("Unknown or deleted server")}})
	reg.Register(openapi.Operation{Method: "GET", Path: "/v1/servers/{region}/{id}/status", Summary: "Server health and state", Tags: []string{"servers"}, Scoped: true,
		Responses: map[string]any{"200": ok("Status")}})
	reg.Register(openapi.Operation{Method: "DELETE", Path: "/v1/servers/{region}/{id}", Summary: "Delete a server", Tags: []string{"servers"}, Scoped: true,
		Responses: map[string]any{"204": ok("Server terminated and address released")}})
	return reg
}
