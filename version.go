package crackncm

import (
	"fmt"
	"runtime"
)

func VersionNumberString() string {
	return "dev"
}

func VersionString() string {
	return fmt.Sprintf("crack-ncm %s", VersionNumberString())
}

func SystemInfoString() string {
	return fmt.Sprintf("%s; Go %s", VersionString(), runtime.Version())
}

// UserAgent is sent on outgoing cover art requests.
func UserAgent() string {
	return fmt.Sprintf("crack-ncm/%s", VersionNumberString())
}
