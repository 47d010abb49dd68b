package kernel

import (
	"errors"

	"github.com/dop251/goja"

	"nbexec/internal/document"
)

// pdfObject exposes a *document.Document as pdf_reader.
type pdfObject struct {
	e     *Engine
	doc   *document.Document
	pages *goja.Object
}

func (e *Engine) newPDFObject(doc *document.Document) *goja.Object {
	return e.vm.NewDynamicObject(&pdfObject{e: e, doc: doc})
}

func (o *pdfObject) Get(key string) goja.Value {
	e := o.e
	switch key {
	case "num_pages":
		return e.vm.ToValue(o.doc.NumPages())
	case "pages":
		if o.pages == nil {
			items := make([]any, o.doc.NumPages())
			for i := range items {
				items[i] = e.newPageObject(o.doc, i)
			}
			o.pages = e.vm.NewArray(items...)
		}
		return o.pages
	case "page":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			i := int(call.Argument(0).ToInteger())
			if i < 0 || i >= o.doc.NumPages() {
				e.throw("IndexError", "page index %d out of range for %d pages", i, o.doc.NumPages())
			}
			return e.newPageObject(o.doc, i)
		})
	case "text":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			s, err := o.doc.Text()
			if err != nil {
				e.throw("DecodingError", "%v", err)
			}
			return e.vm.ToValue(s)
		})
	case "metadata":
		meta := e.vm.NewObject()
		for k, v := range o.doc.Metadata() {
			_ = meta.Set(k, v)
		}
		return meta
	case "toString":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return e.vm.ToValue(e.display(e.newPDFObject(o.doc)))
		})
	}
	return nil
}

func (o *pdfObject) Set(string, goja.Value) bool { return false }

func (o *pdfObject) Has(key string) bool {
	switch key {
	case "num_pages", "pages", "page", "text", "metadata", "toString":
		return true
	}
	return false
}

func (o *pdfObject) Delete(string) bool { return false }

func (o *pdfObject) Keys() []string { return []string{"num_pages", "pages", "metadata"} }

// pageObject is one lazily decoded page.
type pageObject struct {
	e     *Engine
	doc   *document.Document
	index int
}

func (e *Engine) newPageObject(doc *document.Document, i int) *goja.Object {
	return e.vm.NewDynamicObject(&pageObject{e: e, doc: doc, index: i})
}

func (o *pageObject) Get(key string) goja.Value {
	e := o.e
	switch key {
	case "page_number":
		return e.vm.ToValue(o.index + 1)
	case "extract_text":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			s, err := o.doc.PageText(o.index)
			if err != nil {
				if errors.Is(err, document.ErrPageRange) {
					e.throw("IndexError", "%v", err)
				}
				e.throw("DecodingError", "%v", err)
			}
			return e.vm.ToValue(s)
		})
	case "toString":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return e.vm.ToValue(e.display(e.newPageObject(o.doc, o.index)))
		})
	}
	return nil
}

func (o *pageObject) Set(string, goja.Value) bool { return false }

func (o *pageObject) Has(key string) bool {
	return key == "page_number" || key == "extract_text" || key == "toString"
}

func (o *pageObject) Delete(string) bool { return false }

func (o *pageObject) Keys() []string { return []string{"page_number"} }
