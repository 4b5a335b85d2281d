// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inventoryyaml is a default implementation of the inventory
// loader collaborator: it decodes an Ansible-style YAML document into
// pkg/inventory's data model. Callers needing a different source format
// (a CMDB, a cloud provider API) implement their own loader instead; this
// package depends on pkg/inventory and never the reverse.
package inventoryyaml

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fleetgate/fleetgate/pkg/inventory"
)

// rawGroup mirrors one YAML group node: either flat "hosts"/"vars", or a
// nested "children" map of further groups. Ansible silently flattens
// children into the parent at load time; this loader intentionally does
// not, and rejects the shape instead, per the documented edge case.
type rawGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts"`
	Vars     map[string]any            `yaml:"vars"`
	Children map[string]yaml.Node      `yaml:"children"`
}

// ErrNestedGroups is returned when a group declares "children", the
// silently-flattened Ansible nesting convention this loader refuses to
// interpret implicitly.
type ErrNestedGroups struct {
	Group string
}

func (e ErrNestedGroups) Error() string {
	return fmt.Sprintf("inventoryyaml: group %q declares children; nested group hierarchies are not supported, flatten to top-level groups", e.Group)
}

// Load decodes an Ansible-style YAML inventory document (a top-level map
// of group name -> {hosts, vars}) into an *inventory.Inventory.
func Load(data []byte) (*inventory.Inventory, error) {
	var doc map[string]rawGroup
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("inventoryyaml: parse: %w", err)
	}

	inv := inventory.New()
	for groupName, rg := range doc {
		if len(rg.Children) > 0 {
			return nil, ErrNestedGroups{Group: groupName}
		}
		hostNames := make([]string, 0, len(rg.Hosts))
		for hostName, hostVars := range rg.Hosts {
			h := &inventory.Host{
				Name: hostName,
				Vars: map[string]any{},
			}
			for k, v := range hostVars {
				switch k {
				case "ansible_host":
					if s, ok := v.(string); ok {
						h.Address = s
					}
				case "ansible_port":
					h.Port = toInt(v)
				case "ansible_user":
					if s, ok := v.(string); ok {
						h.User = s
					}
				case "ansible_connection":
					if s, ok := v.(string); ok && s == "local" {
						h.Conn = inventory.ConnLocal
					}
				case "ansible_python_interpreter":
					if s, ok := v.(string); ok {
						h.Interpreter = s
					}
				case "ansible_password", "ansible_ssh_pass":
					if s, ok := v.(string); ok {
						h.Auth.Password = s
					}
				case "ansible_ssh_private_key_file":
					if s, ok := v.(string); ok {
						h.Auth.PrivateKeyPath = s
					}
				case "ansible_ssh_private_key_passphrase":
					if s, ok := v.(string); ok {
						h.Auth.Passphrase = s
					}
				case "fleetgate_known_hosts_file":
					if s, ok := v.(string); ok {
						h.Auth.KnownHostsPath = s
					}
				case "fleetgate_insecure_ignore_host_key":
					if b, ok := v.(bool); ok {
						h.Auth.InsecureIgnoreHostKey = b
					}
				default:
					h.Vars[k] = v
				}
			}
			if err := inv.AddHost(h); err != nil {
				return nil, fmt.Errorf("inventoryyaml: %w", err)
			}
			hostNames = append(hostNames, hostName)
		}
		if groupName != inventory.AllGroup || len(rg.Vars) > 0 || len(hostNames) > 0 {
			inv.AddGroup(&inventory.Group{
				Name:  groupName,
				Hosts: hostNames,
				Vars:  rg.Vars,
			})
		}
	}
	return inv, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
