package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

func registerAdminTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name:        "update_config",
		Description: "Set or delete a runtime config key. Credential keys (credential.*) can be set but never read back.",
		Parameters: schema(obj(
			"key", obj("type", "string"),
			"value", obj("type", "string", "description", "JSON or plain value; omit to delete the key"),
		), "key"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			key := strArg(args, "key", "")
			value, hasValue := args["value"]
			if !hasValue {
				if err := d.DB.Configs.Delete(ctx, key); err != nil {
					return Errf("Error: delete failed: %v", err)
				}
				return Ok("Config %q deleted.", key)
			}
			if err := d.DB.Configs.Set(ctx, key, value); err != nil {
				return Errf("Error: set failed: %v", err)
			}
			if strings.HasPrefix(key, "credential.") && d.RebuildModels != nil {
				d.RebuildModels(ctx)
			}
			if strings.HasPrefix(key, "credential.") {
				return Ok("Config %q set (value hidden).", key)
			}
			return Ok("Config %q set.", key)
		},
	})

	r.Register(&Tool{
		Name:        "list_configs",
		Description: "List runtime config keys and values. Credential values show only as present.",
		Parameters:  schema(obj()),
		MinAccess:   store.AccessOwner,
		OwnerOnly:   true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			entries, err := d.DB.Configs.List(ctx)
			if err != nil {
				return Errf("Error: %v", err)
			}
			if len(entries) == 0 {
				return Ok("No config keys set.")
			}
			var b strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&b, "%s = %s\n", e.Key, string(e.Value))
			}
			return Ok("%s", strings.TrimRight(b.String(), "\n"))
		},
	})

	r.Register(&Tool{
		Name: "update_soul",
		Description: "Modify identity, soul entries, or behavior rules. " +
			"Actions: set_identity, add_soul, remove_soul, add_rule, remove_rule, list. " +
			"Rules with SEC, MEM, or IDT codes are immutable.",
		Parameters: schema(obj(
			"action", obj("type", "string",
				"enum", []any{"set_identity", "add_soul", "remove_soul", "add_rule", "remove_rule", "list"}),
			"field", obj("type", "string", "description", "identity field for set_identity: name, motto, backstory, personality"),
			"value", obj("type", "string", "description", "content for set_identity, add_soul, add_rule"),
			"category", obj("type", "string", "description", "soul category for add_soul"),
			"id", obj("type", "integer", "description", "soul entry id for remove_soul"),
			"code", obj("type", "string", "description", "rule code for add_rule and remove_rule"),
			"severity", obj("type", "string", "enum", []any{"hard", "soft"}),
		), "action"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			ident := d.DB.Identity
			switch strArg(args, "action", "") {
			case "set_identity":
				if err := ident.SetIdentityField(ctx, strArg(args, "field", ""), strArg(args, "value", "")); err != nil {
					return Errf("Error: %v", err)
				}
				return Ok("Identity %s updated.", strArg(args, "field", ""))
			case "add_soul":
				id, err := ident.AddSoul(ctx, strArg(args, "category", "general"), strArg(args, "value", ""))
				if err != nil {
					return Errf("Error: %v", err)
				}
				return Ok("Soul entry %d added.", id)
			case "remove_soul":
				if err := ident.RemoveSoul(ctx, int64(intArg(args, "id", 0))); err != nil {
					return Errf("Error: %v", err)
				}
				return Ok("Soul entry removed.")
			case "add_rule":
				id, err := ident.AddRule(ctx, strArg(args, "code", ""), strArg(args, "severity", "soft"), strArg(args, "value", ""))
				if err != nil {
					if errors.Is(err, store.ErrProtectedRule) {
						return Errf("Error: rule codes starting with SEC, MEM, or IDT are reserved")
					}
					return Errf("Error: %v", err)
				}
				return Ok("Rule %s added (id %d).", strArg(args, "code", ""), id)
			case "remove_rule":
				if err := ident.RemoveRule(ctx, strArg(args, "code", "")); err != nil {
					if errors.Is(err, store.ErrProtectedRule) {
						return Errf("Error: that rule is protected and cannot be removed")
					}
					return Errf("Error: %v", err)
				}
				return Ok("Rule removed.")
			case "list":
				return listSoul(ctx, d)
			default:
				return Errf("Error: unknown action")
			}
		},
	})

	r.Register(&Tool{
		Name: "update_ability",
		Description: "Enable, disable, or configure an ability. " +
			"Actions: list, enable, disable, set_config.",
		Parameters: schema(obj(
			"action", obj("type", "string", "enum", []any{"list", "enable", "disable", "set_config"}),
			"name", obj("type", "string"),
			"config", obj("type", "object", "description", "config blob for set_config"),
		), "action"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			name := strArg(args, "name", "")
			var err error
			switch strArg(args, "action", "") {
			case "list":
				abilities, lerr := d.DB.Abilities.List(ctx)
				if lerr != nil {
					return Errf("Error: %v", lerr)
				}
				var b strings.Builder
				for _, a := range abilities {
					state := "disabled"
					if a.Enabled {
						state = "enabled"
					}
					fmt.Fprintf(&b, "%s %s (%s): %s\n", a.Name, a.Version, state, a.Description)
				}
				if b.Len() == 0 {
					return Ok("No abilities registered.")
				}
				return Ok("%s", strings.TrimRight(b.String(), "\n"))
			case "enable":
				err = d.DB.Abilities.SetEnabled(ctx, name, true)
			case "disable":
				err = d.DB.Abilities.SetEnabled(ctx, name, false)
			case "set_config":
				cfg, _ := args["config"].(map[string]any)
				err = d.DB.Abilities.SetConfig(ctx, name, cfg)
			default:
				return Errf("Error: unknown action")
			}
			if err != nil {
				return Errf("Error: %v", err)
			}
			if d.RefreshAbilities != nil {
				if err := d.RefreshAbilities(ctx); err != nil {
					return Errf("Error: ability registry refresh failed: %v", err)
				}
			}
			return Ok("Ability %q updated.", name)
		},
	})

	r.Register(&Tool{
		Name: "manage_user",
		Description: "Manage known users: list, set_access (owner/family/public/blocked), rename, add_alias. " +
			"The first owner can never be demoted.",
		Parameters: schema(obj(
			"action", obj("type", "string", "enum", []any{"list", "set_access", "rename", "add_alias"}),
			"user", obj("type", "string", "description", "display name, alias, or user id"),
			"access", obj("type", "string", "enum", []any{"owner", "family", "public", "blocked"}),
			"value", obj("type", "string", "description", "new name or alias"),
		), "action"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			switch strArg(args, "action", "") {
			case "list":
				users, err := d.DB.Users.List(ctx, "")
				if err != nil {
					return Errf("Error: %v", err)
				}
				var b strings.Builder
				for _, u := range users {
					flag := ""
					if u.Founder {
						flag = " [founder]"
					}
					fmt.Fprintf(&b, "%s (%s on %s): %s%s\n", u.DisplayName, u.PlatformID, u.Platform, u.AccessLevel, flag)
				}
				if b.Len() == 0 {
					return Ok("No users known.")
				}
				return Ok("%s", strings.TrimRight(b.String(), "\n"))
			}

			target, err := resolveUser(ctx, d, strArg(args, "user", ""))
			if err != nil {
				return Errf("Error: %v", err)
			}
			switch strArg(args, "action", "") {
			case "set_access":
				level := store.AccessLevel(strArg(args, "access", ""))
				if level.Rank() == 0 && level != store.AccessBlocked {
					return Errf("Error: access must be owner, family, public, or blocked")
				}
				if err := d.DB.Users.SetAccessLevel(ctx, target.ID, level); err != nil {
					if errors.Is(err, store.ErrProtectedUser) {
						return Errf("Error: the founding owner's access cannot be changed")
					}
					return Errf("Error: %v", err)
				}
				return Ok("%s is now %s.", target.DisplayName, level)
			case "rename":
				if err := d.DB.Users.SetDisplayName(ctx, target.ID, strArg(args, "value", "")); err != nil {
					return Errf("Error: %v", err)
				}
				return Ok("Renamed to %s.", strArg(args, "value", ""))
			case "add_alias":
				if err := d.DB.Users.AddAlias(ctx, target.ID, strings.ToLower(strArg(args, "value", ""))); err != nil {
					return Errf("Error: %v", err)
				}
				return Ok("Alias added for %s.", target.DisplayName)
			default:
				return Errf("Error: unknown action")
			}
		},
	})

	r.Register(&Tool{
		Name: "manage_group",
		Description: "Manage group chats: list, enable, disable, set_mention (require @mention), set_allow (all/registered).",
		Parameters: schema(obj(
			"action", obj("type", "string", "enum", []any{"list", "enable", "disable", "set_mention", "set_allow"}),
			"platform", obj("type", "string"),
			"group_id", obj("type", "string"),
			"value", obj("type", "string", "description", "true/false for set_mention, all/registered for set_allow"),
		), "action"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			platform := strArg(args, "platform", inv.Platform)
			groupID := strArg(args, "group_id", "")
			var err error
			switch strArg(args, "action", "") {
			case "list":
				groups, lerr := d.DB.Groups.List(ctx, "")
				if lerr != nil {
					return Errf("Error: %v", lerr)
				}
				var b strings.Builder
				for _, g := range groups {
					state := "disabled"
					if g.Enabled {
						state = "enabled"
					}
					fmt.Fprintf(&b, "%s [%s/%s]: %s, mention=%v, allow=%s\n",
						g.Name, g.Platform, g.PlatformGroupID, state, g.RequireMention, g.AllowFrom)
				}
				if b.Len() == 0 {
					return Ok("No groups known.")
				}
				return Ok("%s", strings.TrimRight(b.String(), "\n"))
			case "enable":
				err = d.DB.Groups.SetEnabled(ctx, platform, groupID, true)
			case "disable":
				err = d.DB.Groups.SetEnabled(ctx, platform, groupID, false)
			case "set_mention":
				err = d.DB.Groups.SetRequireMention(ctx, platform, groupID, strArg(args, "value", "true") == "true")
			case "set_allow":
				err = d.DB.Groups.SetAllowFrom(ctx, platform, groupID, strArg(args, "value", "all"))
			default:
				return Errf("Error: unknown action")
			}
			if err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Group updated.")
		},
	})
}

func listSoul(ctx context.Context, d *Deps) Result {
	ident, err := d.DB.Identity.GetIdentity(ctx)
	if err != nil {
		return Errf("Error: %v", err)
	}
	soul, err := d.DB.Identity.Soul(ctx)
	if err != nil {
		return Errf("Error: %v", err)
	}
	rules, err := d.DB.Identity.Rules(ctx)
	if err != nil {
		return Errf("Error: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Identity: %s (%s)\n", ident.Name, ident.Motto)
	for _, e := range soul {
		fmt.Fprintf(&b, "soul %d [%s]: %s\n", e.ID, e.Category, e.Content)
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "rule %s (%s): %s\n", r.Code, r.Severity, r.Content)
	}
	return Ok("%s", strings.TrimRight(b.String(), "\n"))
}

func resolveUser(ctx context.Context, d *Deps, ref string) (*store.User, error) {
	if ref == "" {
		return nil, fmt.Errorf("user is required")
	}
	if u, err := d.DB.Users.FindByName(ctx, ref); err == nil {
		return u, nil
	} else if errors.Is(err, store.ErrConflict) {
		return nil, err
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("no user matching %q", ref)
	}
	return d.DB.Users.GetByID(ctx, id)
}
