package retailer

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func jsStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// prelude defines helpers shared by every control script: the parameter
// list and the options of one parameter. Placeholder <option>s with an
// empty value are not counted.
func (c Config) prelude() string {
	return fmt.Sprintf(`const params = () => Array.from(document.querySelectorAll(%s));
const options = (el) => el.tagName === "SELECT"
  ? Array.from(el.options).filter((o) => o.value !== "")
  : (%s ? Array.from(el.querySelectorAll(%s)) : []);`,
		jsString(c.ParameterSelector), jsString(c.OptionSelector), jsString(c.OptionSelector))
}

func wrap(body string) string {
	return "(() => {\n" + body + "\n})()"
}

func (c Config) countScript(param int) string {
	return wrap(fmt.Sprintf(`%s
const el = params()[%d];
return el ? options(el).length : 0;`, c.prelude(), param))
}

func (c Config) hasSelectionScript(param int) string {
	return wrap(fmt.Sprintf(`%s
const el = params()[%d];
if (!el) return false;
if (el.tagName === "SELECT") return el.selectedIndex >= 0 && el.value !== "";
const selected = %s;
return selected ? el.querySelector(selected) !== null : false;`, c.prelude(), param, jsString(c.SelectedSelector)))
}

const (
	selectOK             = "ok"
	selectMissingParam   = "missing-parameter"
	selectMissingOption  = "missing-option"
	selectDisabledOption = "disabled-option"
)

func (c Config) selectScript(param, option int) string {
	return wrap(fmt.Sprintf(`%s
const el = params()[%d];
if (!el) return %q;
const opt = options(el)[%d];
if (!opt) return %q;
if (el.tagName === "SELECT") {
  if (opt.disabled) return %q;
  el.value = opt.value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return %q;
}
opt.scrollIntoView({ block: "center" });
opt.click();
return %q;`, c.prelude(), param, selectMissingParam, option, selectMissingOption,
		selectDisabledOption, selectOK, selectOK))
}

func existsScript(selector string) string {
	return wrap(fmt.Sprintf(`return document.querySelector(%s) !== null;`, jsString(selector)))
}

func anyExistsScript(selectors []string) string {
	return wrap(fmt.Sprintf(`return %s.some((s) => document.querySelector(s) !== null);`, jsStrings(selectors)))
}

// pageState is what stateScript returns.
type pageState struct {
	SKU     string   `json:"sku"`
	Price   string   `json:"price"`
	Images  []string `json:"images"`
	Captcha bool     `json:"captcha"`
	Blocked bool     `json:"blocked"`
}

func (c Config) stateScript() string {
	return wrap(fmt.Sprintf(`const pick = (s) => s ? document.querySelector(s) : null;
const skuEl = pick(%s);
const skuAttr = %s;
const sku = skuEl ? (skuAttr ? skuEl.getAttribute(skuAttr) || "" : skuEl.textContent || "") : "";
const priceEl = pick(%s);
const imageSel = %s;
const imageAttr = %s;
const images = imageSel ? Array.from(document.querySelectorAll(imageSel)).map((i) => i.getAttribute(imageAttr) || "") : [];
return {
  sku: sku.trim(),
  price: priceEl ? (priceEl.textContent || "").trim() : "",
  images: images,
  captcha: %s.some((s) => document.querySelector(s) !== null),
  blocked: %s.some((s) => document.querySelector(s) !== null),
};`, jsString(c.SKUSelector), jsString(c.SKUAttribute), jsString(c.PriceSelector),
		jsString(c.ImageSelector), jsString(c.imageAttribute()),
		jsStrings(c.CaptchaSelectors), jsStrings(c.BlockedSelectors)))
}

// attributesScript reads the label of the chosen option of every parameter.
func (c Config) attributesScript() string {
	return wrap(fmt.Sprintf(`%s
const selected = %s;
const out = {};
params().forEach((el, i) => {
  const name = el.getAttribute("data-name") || el.getAttribute("name") || el.getAttribute("aria-label") || ("param_" + i);
  let label = "";
  if (el.tagName === "SELECT") {
    const o = el.options[el.selectedIndex];
    label = o && o.value !== "" ? o.text : "";
  } else if (selected) {
    const o = el.querySelector(selected);
    label = o ? (o.getAttribute("title") || o.getAttribute("aria-label") || o.textContent || "") : "";
  }
  if (label.trim() !== "") out[name] = label.trim();
});
return out;`, c.prelude(), jsString(c.SelectedSelector)))
}
