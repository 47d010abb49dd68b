package v1

import (
	"net/http"

	"nbexec/internal/gateway/handlers"
)

// Examples are ready-to-run cells shown to new callers.
var Examples = []Example{
	{
		Name: "Hello World",
		Code: `print("Hello from nbexec!")`,
	},
	{
		Name:        "Table Analysis",
		Description: "Builds a table, filters it and prints column statistics.",
		Code: `var t = Table.from_columns({
  name: ["ada", "bob", "cy"],
  dept: ["eng", "ops", "eng"],
  salary: [120, 90, 110],
})
print("rows:", t.row_count, "columns:", t.columns)
var eng = t.filter(function (r) { return r.dept === "eng" })
print("eng rows:", eng.row_count)
print("mean salary:", t.mean("salary"))
print(t.head(2).to_csv())`,
	},
	{
		Name:        "Session Counter",
		Description: "Run repeatedly in session mode; counter survives between calls.",
		Code: `if (typeof counter === "undefined") counter = 0
counter += 1
print("counter =", counter)`,
	},
	{
		Name:        "Output Upload",
		Description: "Set output_content and pass an output_url to upload it.",
		Code:        `output_content = "a,b\n1,2\n"`,
	},
	{
		Name: "Error Example",
		Code: "// This will raise an error\nx = 1 / 0",
	},
}

// HandleExamples lists the example cells.
func (r *Router) HandleExamples(w http.ResponseWriter, req *http.Request) {
	handlers.SendJSON(w, http.StatusOK, ExamplesResponse{Examples: Examples})
}
