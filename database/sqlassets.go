package sqlassets

import _ "embed"

//go:embed schema/platform.sql
var PlatformSQL string

//go:embed schema/tenant_space.sql
var TenantSpaceSQL string
