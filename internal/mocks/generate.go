// Package mocks provides mock implementations of the internal/core ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockGen := mocks.NewMockGenerator(ctrl)
//	mockGen.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods: Create, GetByID, Save, List
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/Johnshah/My/internal/core JobRepository

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods: FailInFlight, DeleteTerminalBefore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/Johnshah/My/internal/core ReaperRepository

// Generate mock for ProgressPublisher interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=progress_publisher_mock.go github.com/Johnshah/My/internal/core ProgressPublisher

// Generate mocks for the collaborator ports: SourceAnalyzer, Generator, Builder.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=source_analyzer_mock.go github.com/Johnshah/My/internal/core SourceAnalyzer
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=generator_mock.go github.com/Johnshah/My/internal/core Generator
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=builder_mock.go github.com/Johnshah/My/internal/core Builder

// Generate mock for ArtifactStore interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=artifact_store_mock.go github.com/Johnshah/My/internal/core ArtifactStore
