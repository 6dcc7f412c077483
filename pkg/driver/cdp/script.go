package cdp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Every DOM node handed to Go is pushed onto window.__brElements and
// referenced by its index. A navigation drops the array along with the
// document, which is how stale references are detected.
const prelude = `const reg = window.__brElements = window.__brElements || [];
const get = id => {
  const el = reg[id];
  if (!el || !el.isConnected) throw new Error("stale element reference");
  return el;
};
const doc = frame => {
  if (frame < 0) return document;
  const d = get(frame).contentDocument;
  if (!d) throw new Error("no such frame");
  return d;
};
const ref = v => (v && v.nodeType === 1) ? {__brElement: reg.push(v) - 1}
  : Array.isArray(v) ? v.map(ref) : v;`

// elementKey marks an element reference in values crossing the wire.
const elementKey = "__brElement"

// call builds an expression applying fn to the JSON-encoded args, with the
// registry helpers in scope. undefined results come back as null.
func call(fn string, args ...interface{}) (string, error) {
	if args == nil {
		args = []interface{}{}
	}
	enc, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("(function() {\n")
	sb.WriteString(prelude)
	sb.WriteString("\nconst r = (")
	sb.WriteString(fn)
	sb.WriteString(").apply(null, ")
	sb.Write(enc)
	sb.WriteString(");\nreturn r === undefined ? null : r;\n})()")
	return sb.String(), nil
}

const findScript = `(using, value, root, frame) => {
  const scope = root < 0 ? doc(frame) : get(root);
  const owner = scope.ownerDocument || scope;
  let nodes = [];
  try {
    if (using === "xpath") {
      const r = owner.evaluate(value, scope, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
      for (let i = 0; i < r.snapshotLength; i++) {
        const n = r.snapshotItem(i);
        if (n.nodeType === 1) nodes.push(n);
      }
    } else {
      nodes = Array.from(scope.querySelectorAll(value));
    }
  } catch (e) {
    throw new Error("invalid selector: " + e.message);
  }
  return nodes.map(n => reg.push(n) - 1);
}`

// executeScript runs a user script body with element markers resolved to
// nodes and node results turned back into markers.
const executeScript = `(body, args) => {
  const resolved = args.map(function unwrap(a) {
    if (a && typeof a === "object" && !Array.isArray(a) && "__brElement" in a) return get(a.__brElement);
    return Array.isArray(a) ? a.map(unwrap) : a;
  });
  return ref(new Function(body).apply(null, resolved));
}`

const frameScript = `id => {
  const el = get(id);
  if (!el.contentDocument) throw new Error("no such frame: " + el.tagName.toLowerCase() + " has no accessible document");
  return true;
}`

const sourceScript = `frame => doc(frame).documentElement.outerHTML`

const clickScript = `id => {
  const el = get(id);
  el.scrollIntoView({block: "center", inline: "center"});
  setTimeout(() => el.click(), 0);
  return true;
}`

const settleScript = `() => new Promise(r => setTimeout(r, 0))`

const clearScript = `id => {
  const el = get(id);
  if ("value" in el) {
    el.value = "";
  } else if (el.isContentEditable) {
    el.textContent = "";
  }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return true;
}`

// focusScript focuses the element with the caret at the end of its value.
const focusScript = `id => {
  const el = get(id);
  el.focus();
  if (typeof el.setSelectionRange === "function") {
    try { el.setSelectionRange(el.value.length, el.value.length); } catch (e) {}
  }
  return true;
}`

const textScript = `id => {
  const el = get(id);
  return (el.innerText !== undefined ? el.innerText : el.textContent).trim();
}`

// attributeScript follows WebDriver's getAttribute: boolean attributes
// read "true" or null, properties win over attributes.
const attributeScript = `(id, name) => {
  const el = get(id);
  const booleans = ["checked", "selected", "disabled", "hidden", "multiple", "readonly", "required"];
  if (booleans.includes(name.toLowerCase())) {
    return (el[name] || el.hasAttribute(name)) ? "true" : null;
  }
  if (name in el && typeof el[name] !== "object" && typeof el[name] !== "function") {
    return el[name];
  }
  return el.getAttribute(name);
}`

const displayedScript = `id => {
  const el = get(id);
  if (!el.getClientRects().length) return false;
  const style = (el.ownerDocument.defaultView || window).getComputedStyle(el);
  return style.visibility !== "hidden" && style.display !== "none" && style.opacity !== "0";
}`

const enabledScript = `id => !get(id).disabled`

const selectedScript = `id => { const el = get(id); return !!(el.checked || el.selected); }`

// centerScript scrolls the element into view and returns its centre in
// top-level viewport coordinates.
const centerScript = `id => {
  const el = get(id);
  el.scrollIntoView({block: "center", inline: "center"});
  const r = el.getBoundingClientRect();
  let x = r.left + r.width / 2, y = r.top + r.height / 2;
  let w = el.ownerDocument.defaultView;
  while (w && w.frameElement) {
    const fr = w.frameElement.getBoundingClientRect();
    x += fr.left;
    y += fr.top;
    w = w.parent;
  }
  return [x, y];
}`
