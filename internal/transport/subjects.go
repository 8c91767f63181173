package transport

import "strings"

// Subjects names the NATS subjects of one deployment.
type Subjects struct {
	Prefix string
}

// Mark is where an agent receives mark requests.
func (s Subjects) Mark(agent string) string {
	return s.join("agent", agent, "mark")
}

// Run is where an agent receives run requests.
func (s Subjects) Run(agent string) string {
	return s.join("agent", agent, "run")
}

// Module carries module-boundary callbacks of a build.
func (s Subjects) Module(buildID string) string {
	return s.join("build", buildID, "module")
}

// Output carries the raw output chunks of a build.
func (s Subjects) Output(buildID string) string {
	return s.join("build", buildID, "output")
}

// Done carries the final status of a build.
func (s Subjects) Done(buildID string) string {
	return s.join("build", buildID, "done")
}

// Bucket is the JetStream key-value bucket agents register in.
func (s Subjects) Bucket() string {
	return s.prefix() + "-agents"
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return "cascade"
	}
	return s.Prefix
}

func (s Subjects) join(kind, name, verb string) string {
	return s.prefix() + "." + kind + "." + token(name) + "." + verb
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// token makes name usable as a single subject token.
func token(name string) string {
	if name == "" {
		return "_"
	}
	return tokenReplacer.Replace(name)
}
