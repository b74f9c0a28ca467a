package testutil

import (
	"testing"

	"github.com/junioryono/plugraph"
	"github.com/stretchr/testify/assert"
)

// WidgetModule registers the widget fixtures: a red default Widget, named
// Blue and Green widgets, Red and Blue rules and the default Gateway.
func WidgetModule() plugraph.ModuleOption {
	return plugraph.NewModule("widgets",
		plugraph.Use[Widget](func() *ColorWidget { return NewColorWidget("Red") }, plugraph.Named("Red")),
		plugraph.Add[Widget](plugraph.Object(NewColorWidget("Blue")), plugraph.Named("Blue")),
		plugraph.Add[Widget](func() *ColorWidget { return NewColorWidget("Green") }, plugraph.Named("Green")),
		plugraph.Use[Rule](plugraph.Object(NewColorRule("Red")), plugraph.Named("Red")),
		plugraph.Add[Rule](plugraph.Object(NewColorRule("Blue")), plugraph.Named("Blue")),
		plugraph.Use[Gateway](plugraph.Object(DefaultGateway{})),
	)
}

// CreateWidgetContainer creates a container with WidgetModule
func CreateWidgetContainer(t *testing.T, opts ...plugraph.Option) *plugraph.Container {
	t.Helper()

	return NewRegistryBuilder(t).
		WithModule(WidgetModule()).
		WithOptions(opts...).
		Build()
}

// TestScenario represents a test scenario configuration
type TestScenario struct {
	Name     string
	Setup    func(t *testing.T) *plugraph.Container
	Validate func(t *testing.T, c *plugraph.Container)
}

// RunTestScenarios executes a set of test scenarios
func RunTestScenarios(t *testing.T, scenarios []TestScenario) {
	t.Helper()

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			t.Parallel()

			c := scenario.Setup(t)
			scenario.Validate(t, c)
		})
	}
}

// ErrorTestCase represents a test case for error scenarios
type ErrorTestCase struct {
	Name      string
	Setup     func(t *testing.T) *plugraph.Container
	Action    func(c *plugraph.Container) error
	WantError error
	CheckErr  func(t *testing.T, err error)
}

// RunErrorTestCases executes error test cases
func RunErrorTestCases(t *testing.T, cases []ErrorTestCase) {
	t.Helper()

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			t.Parallel()

			c := tc.Setup(t)
			err := tc.Action(c)

			assert.Error(t, err)
			if tc.WantError != nil {
				assert.ErrorIs(t, err, tc.WantError)
			}

			if tc.CheckErr != nil {
				tc.CheckErr(t, err)
			}
		})
	}
}
