package scaffold

import (
	"strings"

	"github.com/Johnshah/My/internal/domain/model"
)

type role string

const (
	roleManifest  role = "manifest"
	roleEntry     role = "entry"
	roleComponent role = "component"
	roleTest      role = "test"
)

// layoutPath returns where a platform keeps the file for r, or "" when the
// platform has no such file.
func layoutPath(p model.Platform, r role, v view) string {
	switch p {
	case model.PlatformWeb:
		return map[role]string{
			roleManifest:  "web/package.json",
			roleEntry:     "web/src/main.js",
			roleComponent: "web/src/feature.js",
			roleTest:      "web/test/feature.test.js",
		}[r]
	case model.PlatformDesktop:
		return map[role]string{
			roleManifest:  "desktop/package.json",
			roleEntry:     "desktop/main.js",
			roleComponent: "desktop/feature.js",
			roleTest:      "desktop/test/feature.test.js",
		}[r]
	case model.PlatformAndroid:
		src := "android/app/src/main/java/" + strings.ReplaceAll(v.Package, ".", "/")
		test := "android/app/src/test/java/" + strings.ReplaceAll(v.Package, ".", "/")
		return map[role]string{
			roleManifest:  "android/app/build.gradle.kts",
			roleEntry:     src + "/MainActivity.kt",
			roleComponent: src + "/FeatureView.kt",
			roleTest:      test + "/FeatureTest.kt",
		}[r]
	case model.PlatformIOS:
		return map[role]string{
			roleManifest:  "ios/Package.swift",
			roleEntry:     "ios/Sources/" + v.Ident + "/App.swift",
			roleComponent: "ios/Sources/" + v.Ident + "/FeatureView.swift",
			roleTest:      "ios/Tests/" + v.Ident + "Tests/FeatureTests.swift",
		}[r]
	default:
		return ""
	}
}
