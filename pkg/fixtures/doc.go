// Package fixtures seeds an in-memory store from a YAML file and can keep
// it in sync with the file while the process runs.
//
//	groups:
//	  - {id: 1, path: acme, visibility: public}
//	projects:
//	  - id: 10
//	    path: acme/widgets
//	    visibility: private
//	    parent_id: 1
//	    features: {package_registry: enabled}
//	users:
//	  - {id: 7, username: alice}
//	memberships:
//	  - {user_id: 7, project: 10, level: developer}
//	personal_access_tokens:
//	  - {user_id: 7, name: laptop, token: rgpat-..., scopes: [api]}
//	protection_rules:
//	  - {project_id: 10, package_type: generic, package_name_pattern: "release-.*", minimum_access_level_for_push: maintainer}
//
// Memberships are loaded as written, without the inherited level check
// that live writes go through.
package fixtures
