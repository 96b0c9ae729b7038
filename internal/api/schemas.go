package api

// Amounts may be sent as JSON numbers or decimal strings; strings avoid float
// rounding in clients.
const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["receiver_account_number", "currency_code", "amount"],
  "properties": {
    "receiver_account_number": {"type": "string", "minLength": 1, "maxLength": 34},
    "currency_code": {"type": "string", "pattern": "^[A-Za-z]{3}$"},
    "amount": {
      "type": ["string", "number"],
      "pattern": "^[0-9]+(\\.[0-9]+)?$",
      "exclusiveMinimum": 0
    }
  }
}`

const openAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["currency_code", "account_type"],
  "properties": {
    "currency_code": {"type": "string", "pattern": "^[A-Za-z]{3}$"},
    "account_type": {"type": "string", "enum": ["savings", "checking"]},
    "holder_name": {"type": "string", "maxLength": 255},
    "initial_balance": {
      "type": ["string", "number"],
      "pattern": "^[0-9]+(\\.[0-9]+)?$",
      "minimum": 0
    }
  }
}`
