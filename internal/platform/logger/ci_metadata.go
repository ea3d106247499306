package logger

import (
	"os"

	"github.com/skeind/showrunner/internal/ciutil"
)

// getCIMetadata collects metadata about the current CI environment.
// The returned map is attached to every log record emitted through the
// CIHandler so that failures can be traced back to a specific pipeline run.
// Outside of CI the map is empty and the handler adds nothing.
func getCIMetadata() map[string]string {
	metadata := make(map[string]string)

	if !ciutil.IsCI() {
		return metadata
	}

	// Identify the provider first, then pull the provider-specific
	// identifiers that locate the exact run in its UI.
	switch {
	case ciutil.IsGitHubActions():
		metadata["ci_provider"] = "github_actions"
		addEnvIfSet(metadata, "ci_workflow", "GITHUB_WORKFLOW")
		addEnvIfSet(metadata, "ci_run_id", "GITHUB_RUN_ID")
		addEnvIfSet(metadata, "ci_job", "GITHUB_JOB")
		addEnvIfSet(metadata, "ci_sha", "GITHUB_SHA")
		addEnvIfSet(metadata, "ci_ref", "GITHUB_REF")
	case ciutil.IsGitLabCI():
		metadata["ci_provider"] = "gitlab_ci"
		addEnvIfSet(metadata, "ci_pipeline_id", "CI_PIPELINE_ID")
		addEnvIfSet(metadata, "ci_job_id", "CI_JOB_ID")
		addEnvIfSet(metadata, "ci_sha", "CI_COMMIT_SHA")
		addEnvIfSet(metadata, "ci_ref", "CI_COMMIT_REF_NAME")
	case os.Getenv(ciutil.EnvJenkinsURL) != "":
		metadata["ci_provider"] = "jenkins"
		addEnvIfSet(metadata, "ci_build_url", "BUILD_URL")
		addEnvIfSet(metadata, "ci_job", "JOB_NAME")
	case os.Getenv(ciutil.EnvTravisCI) != "":
		metadata["ci_provider"] = "travis"
		addEnvIfSet(metadata, "ci_build_id", "TRAVIS_BUILD_ID")
	case os.Getenv(ciutil.EnvCircleCI) != "":
		metadata["ci_provider"] = "circleci"
		addEnvIfSet(metadata, "ci_build_url", "CIRCLE_BUILD_URL")
	default:
		metadata["ci_provider"] = "unknown"
	}

	return metadata
}

// addEnvIfSet copies the value of the named environment variable into the
// metadata map under key, skipping variables that are unset or empty.
func addEnvIfSet(metadata map[string]string, key, envVar string) {
	if val := os.Getenv(envVar); val != "" {
		metadata[key] = val
	}
}
