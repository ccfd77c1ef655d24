package version

// Version is stamped by the release scripts. The default marks dev builds.
var Version = "0.3.0-dev"
