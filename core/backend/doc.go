/*
Package backend implements the configurable backend

A backend generates the CRUD routes for a set of document collections on a mux router. The
documents live in any store.Driver: memory, postgres, sqlite, mongo, dynamodb, badger or s3.

# Configuration

The configuration is done entirely via JSON. It consists of collections.

Example:

	{
	  "collections": [
	    {
	      "resource": "user",
	      "schema_id": "https://example.com/schemas/user.json",
	      "permits": [
	        {
	          "role": "everybody",
	          "operations": ["list", "read"]
	        },
	        {
	          "role": "userrole",
	          "operations": ["read", "update"],
	          "selector": "user"
	        }
	      ]
	    },
	    {
	      "resource": "device"
	    }
	  ]
	}

This configuration creates the following REST routes:

	GET /users
	POST /users
	GET /users/{id}
	PATCH /users/{id}
	DELETE /users/{id}
	GET /devices
	POST /devices
	GET /devices/{id}
	PATCH /devices/{id}
	DELETE /devices/{id}

The records of a collection are stored in the collection with the plural resource name, e.g.
"users", of the store given to the builder.

# Validation

If a collection specifies a schema_id, the bodies of POST and PATCH requests are validated against
this JSON schema. The schemas are loaded into a schema.Validator, see Builder.

# Authorization

If authorization is enabled, every collection is guarded by its permits (see access.Permit). The
role "admin" has access to everything unless it has a permit of its own, "everybody" stands for
every authenticated role without permits of its own, and "public" for every caller. Without
authorization enabled, all routes are open.

Requests for collections without matching permits are answered with 401 Unauthorized if the
caller has no authorization at all, and with 403 Forbidden otherwise.

# Notifications

A notify.Notifier given to the builder receives an event for every successful create, update
and delete. Notifications are enabled per collection with "notifications": true.

Other routes

	GET /version      the version of the backend build
	GET /authorization the authorization of the caller
*/
package backend
